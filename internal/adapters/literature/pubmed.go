package literature

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"medbrief/internal/domain"
	"medbrief/internal/infra/metrics"
)

const (
	defaultEutilsURL = "https://eutils.ncbi.nlm.nih.gov/entrez/eutils"
	defaultICiteURL  = "https://icite.od.nih.gov/api"
	defaultMax       = 200
)

// Config задаёт параметры источника PubMed.
type Config struct {
	BaseURL    string
	APIKey     string
	ICiteURL   string
	RPS        float64
	MaxResults int
	Timeout    time.Duration
}

// PubMed ищет публикации через NCBI E-utilities и дополняет их цитированиями из iCite.
type PubMed struct {
	client   *http.Client
	limiter  *rate.Limiter
	baseURL  string
	iciteURL string
	apiKey   string
	max      int
	log      zerolog.Logger
}

var _ domain.LiteratureSource = (*PubMed)(nil)

// NewPubMed создаёт источник. RPS <= 0 снимает ограничение частоты запросов.
func NewPubMed(cfg Config, logger zerolog.Logger) *PubMed {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultEutilsURL
	}
	if cfg.ICiteURL == "" {
		cfg.ICiteURL = defaultICiteURL
	}
	if cfg.MaxResults <= 0 {
		cfg.MaxResults = defaultMax
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	limit := rate.Inf
	if cfg.RPS > 0 {
		limit = rate.Limit(cfg.RPS)
	}
	return &PubMed{
		client:   &http.Client{Timeout: cfg.Timeout},
		limiter:  rate.NewLimiter(limit, 1),
		baseURL:  strings.TrimRight(cfg.BaseURL, "/"),
		iciteURL: strings.TrimRight(cfg.ICiteURL, "/") + "/pubs",
		apiKey:   cfg.APIKey,
		max:      cfg.MaxResults,
		log:      logger.With().Str("component", "pubmed").Logger(),
	}
}

// Search реализует domain.LiteratureSource.
func (p *PubMed) Search(ctx context.Context, keywords []string, window domain.Window) ([]domain.LiteratureRecord, error) {
	term := BuildTerm(keywords)
	if term == "" {
		return nil, fmt.Errorf("pubmed: пустой поисковый запрос")
	}
	ids, err := p.search(ctx, term, window)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.LiteratureRecord{}, nil
	}

	records, err := p.summaries(ctx, ids)
	if err != nil {
		return nil, err
	}

	abstracts, err := p.abstracts(ctx, ids)
	if err != nil {
		p.log.Warn().Err(err).Msg("pubmed: аннотации недоступны, продолжаем без них")
	}
	citations, err := p.citations(ctx, ids)
	if err != nil {
		p.log.Warn().Err(err).Msg("pubmed: цитирования недоступны, продолжаем без них")
	}
	for i := range records {
		if abs, ok := abstracts[records[i].ID]; ok {
			records[i].Summary = abs
		}
		if c, ok := citations[records[i].ID]; ok {
			records[i].Citations = &c
		}
	}
	return records, nil
}

// BuildTerm объединяет ключевые слова через OR, каждое в кавычках.
func BuildTerm(keywords []string) string {
	parts := make([]string, 0, len(keywords))
	for _, k := range keywords {
		k = strings.TrimSpace(strings.ReplaceAll(k, `"`, ""))
		if k == "" {
			continue
		}
		parts = append(parts, `"`+k+`"`)
	}
	return strings.Join(parts, " OR ")
}

type esearchResponse struct {
	Result struct {
		IDList []string `json:"idlist"`
	} `json:"esearchresult"`
}

func (p *PubMed) search(ctx context.Context, term string, window domain.Window) ([]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("term", term)
	q.Set("retmode", "json")
	q.Set("sort", "pub_date")
	q.Set("retmax", strconv.Itoa(p.max))
	if !window.From.IsZero() && window.To.After(window.From) {
		q.Set("datetype", "pdat")
		q.Set("mindate", window.From.Format("2006/01/02"))
		q.Set("maxdate", window.To.Add(-time.Nanosecond).Format("2006/01/02"))
	}
	var resp esearchResponse
	if err := p.getJSON(ctx, "esearch", p.baseURL+"/esearch.fcgi", q, &resp); err != nil {
		return nil, err
	}
	return resp.Result.IDList, nil
}

type summaryAuthor struct {
	Name string `json:"name"`
}

type summaryDoc struct {
	UID             string          `json:"uid"`
	Title           string          `json:"title"`
	Authors         []summaryAuthor `json:"authors"`
	PubDate         string          `json:"pubdate"`
	SortPubDate     string          `json:"sortpubdate"`
	FullJournalName string          `json:"fulljournalname"`
	Source          string          `json:"source"`
	PubType         []string        `json:"pubtype"`
}

type esummaryResponse struct {
	Result map[string]json.RawMessage `json:"result"`
}

func (p *PubMed) summaries(ctx context.Context, ids []string) ([]domain.LiteratureRecord, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("retmode", "json")
	q.Set("id", strings.Join(ids, ","))
	var resp esummaryResponse
	if err := p.getJSON(ctx, "esummary", p.baseURL+"/esummary.fcgi", q, &resp); err != nil {
		return nil, err
	}

	out := make([]domain.LiteratureRecord, 0, len(ids))
	for _, id := range ids {
		raw, ok := resp.Result[id]
		if !ok {
			continue
		}
		var doc summaryDoc
		if err := json.Unmarshal(raw, &doc); err != nil {
			return nil, fmt.Errorf("pubmed: разбор esummary %s: %w", id, err)
		}
		out = append(out, doc.record(id))
	}
	return out, nil
}

func (d summaryDoc) record(id string) domain.LiteratureRecord {
	authors := make([]string, 0, len(d.Authors))
	for _, a := range d.Authors {
		if name := strings.TrimSpace(a.Name); name != "" {
			authors = append(authors, name)
		}
	}
	journal := d.FullJournalName
	if journal == "" {
		journal = d.Source
	}
	return domain.LiteratureRecord{
		ID:              id,
		Title:           StripMarkup(d.Title),
		Authors:         authors,
		PublicationDate: ParsePubDate(d.SortPubDate, d.PubDate),
		Journal:         journal,
		Type:            domain.ClassifyLiterature(d.PubType...),
	}
}

// ParsePubDate разбирает sortpubdate ("2025/03/03 00:00"), а при его отсутствии — pubdate
// ("2025 Mar 3", "2025 Mar", "2025"). Неразборчивая дата даёт нулевое время.
func ParsePubDate(sortPubDate, pubDate string) time.Time {
	if t, err := time.Parse("2006/01/02 15:04", strings.TrimSpace(sortPubDate)); err == nil {
		return t
	}
	pubDate = strings.TrimSpace(pubDate)
	for _, layout := range []string{"2006 Jan 2", "2006 Jan", "2006"} {
		fields := len(strings.Fields(layout))
		parts := strings.Fields(pubDate)
		if len(parts) < fields {
			continue
		}
		if t, err := time.Parse(layout, strings.Join(parts[:fields], " ")); err == nil {
			return t
		}
	}
	return time.Time{}
}

type efetchSet struct {
	Articles []struct {
		PMID      string `xml:"MedlineCitation>PMID"`
		Abstracts []struct {
			Label string `xml:"Label,attr"`
			Inner string `xml:",innerxml"`
		} `xml:"MedlineCitation>Article>Abstract>AbstractText"`
	} `xml:"PubmedArticle"`
}

func (p *PubMed) abstracts(ctx context.Context, ids []string) (map[string]string, error) {
	q := url.Values{}
	q.Set("db", "pubmed")
	q.Set("id", strings.Join(ids, ","))
	q.Set("rettype", "abstract")
	q.Set("retmode", "xml")
	body, err := p.get(ctx, "efetch", p.baseURL+"/efetch.fcgi", q)
	if err != nil {
		return nil, err
	}
	var set efetchSet
	if err := xml.Unmarshal(body, &set); err != nil {
		return nil, fmt.Errorf("pubmed: разбор efetch: %w", err)
	}
	out := make(map[string]string, len(set.Articles))
	for _, art := range set.Articles {
		parts := make([]string, 0, len(art.Abstracts))
		for _, a := range art.Abstracts {
			text := StripMarkup(a.Inner)
			if text == "" {
				continue
			}
			if a.Label != "" {
				text = a.Label + ": " + text
			}
			parts = append(parts, text)
		}
		if len(parts) > 0 {
			out[strings.TrimSpace(art.PMID)] = strings.Join(parts, "\n")
		}
	}
	return out, nil
}

type iciteResponse struct {
	Data []struct {
		PMID          int64 `json:"pmid"`
		CitationCount *int  `json:"citation_count"`
	} `json:"data"`
}

func (p *PubMed) citations(ctx context.Context, ids []string) (map[string]int, error) {
	q := url.Values{}
	q.Set("pmids", strings.Join(ids, ","))
	q.Set("fl", "pmid,citation_count")
	var resp iciteResponse
	if err := p.getJSON(ctx, "icite", p.iciteURL, q, &resp); err != nil {
		return nil, err
	}
	out := make(map[string]int, len(resp.Data))
	for _, d := range resp.Data {
		if d.CitationCount != nil {
			out[strconv.FormatInt(d.PMID, 10)] = *d.CitationCount
		}
	}
	return out, nil
}

// StripMarkup убирает HTML/XML-разметку и схлопывает пробелы.
func StripMarkup(s string) string {
	if !strings.ContainsAny(s, "<&") {
		return strings.Join(strings.Fields(s), " ")
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return strings.Join(strings.Fields(s), " ")
	}
	return strings.Join(strings.Fields(doc.Text()), " ")
}

func (p *PubMed) getJSON(ctx context.Context, op, endpoint string, q url.Values, dst any) error {
	body, err := p.get(ctx, op, endpoint, q)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, dst); err != nil {
		return fmt.Errorf("pubmed: разбор %s: %w", op, err)
	}
	return nil
}

// get выполняет запрос с учётом лимита частоты. Сетевые ошибки, 429 и 5xx считаются временными.
func (p *PubMed) get(ctx context.Context, op, endpoint string, q url.Values) ([]byte, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("pubmed: rate limiter: %w", err)
	}
	if p.apiKey != "" && op != "icite" {
		q.Set("api_key", p.apiKey)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("pubmed: build request: %w", err)
	}
	req.Header.Set("User-Agent", "medbrief/1.0")

	start := time.Now()
	resp, err := p.client.Do(req)
	if err != nil {
		metrics.ObserveNetworkRequest("pubmed", op, req.URL.Host, start, err)
		return nil, domain.Transient(fmt.Errorf("pubmed %s: %w", op, err))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.ObserveNetworkRequest("pubmed", op, req.URL.Host, start, err)
		return nil, domain.Transient(fmt.Errorf("pubmed %s: read body: %w", op, err))
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("pubmed %s: unexpected status %s", op, resp.Status)
		metrics.ObserveNetworkRequest("pubmed", op, req.URL.Host, start, err)
		if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
			return nil, domain.Transient(err)
		}
		return nil, err
	}
	metrics.ObserveNetworkRequest("pubmed", op, req.URL.Host, start, nil)
	return body, nil
}
