package literature

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"medbrief/internal/domain"
)

const esummaryBody = `{"result":{"uids":["111","222"],
"111":{"uid":"111","title":"Effect of <i>SGLT2</i> inhibitors","authors":[{"name":"Ivanov I"},{"name":"Petrov P"}],
"pubdate":"2025 Mar 3","sortpubdate":"2025/03/03 00:00","fulljournalname":"The Lancet","pubtype":["Randomized Controlled Trial","Journal Article"]},
"222":{"uid":"222","title":"Heart failure outcomes","authors":[],"pubdate":"2024 Dec","sortpubdate":"","source":"BMJ","pubtype":["Systematic Review","Meta-Analysis"]}}}`

const efetchBody = `<?xml version="1.0"?>
<PubmedArticleSet>
 <PubmedArticle><MedlineCitation><PMID Version="1">111</PMID><Article>
  <Abstract>
   <AbstractText Label="BACKGROUND">Patients with <i>HFrEF</i> were enrolled.</AbstractText>
   <AbstractText Label="RESULTS">Mortality fell by 12%.</AbstractText>
  </Abstract>
 </Article></MedlineCitation></PubmedArticle>
</PubmedArticleSet>`

type queryLog struct {
	mu     sync.Mutex
	values []string
}

func (l *queryLog) add(v ...string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.values = append(l.values, v...)
}

func (l *queryLog) get() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]string(nil), l.values...)
}

func newTestServer(t *testing.T, status map[string]int) (*httptest.Server, *queryLog) {
	t.Helper()
	terms := &queryLog{}
	mux := http.NewServeMux()
	write := func(w http.ResponseWriter, op, body string) {
		if code, ok := status[op]; ok {
			w.WriteHeader(code)
			return
		}
		_, _ = w.Write([]byte(body))
	}
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		terms.add(q.Get("term"), q.Get("mindate"), q.Get("maxdate"), q.Get("api_key"))
		write(w, "esearch", `{"esearchresult":{"idlist":["111","222"]}}`)
	})
	mux.HandleFunc("/esummary.fcgi", func(w http.ResponseWriter, r *http.Request) {
		write(w, "esummary", esummaryBody)
	})
	mux.HandleFunc("/efetch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		write(w, "efetch", efetchBody)
	})
	mux.HandleFunc("/icite/pubs", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("api_key") != "" {
			t.Errorf("ключ PubMed не должен уходить в iCite")
		}
		write(w, "icite", `{"data":[{"pmid":111,"citation_count":73},{"pmid":222,"citation_count":null}]}`)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv, terms
}

func newTestPubMed(srv *httptest.Server) *PubMed {
	return NewPubMed(Config{BaseURL: srv.URL, ICiteURL: srv.URL + "/icite", APIKey: "secret", Timeout: 2 * time.Second}, zerolog.Nop())
}

func testWindow() domain.Window {
	return domain.Window{
		From: time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC),
		To:   time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestSearchMapsRecords(t *testing.T) {
	srv, terms := newTestServer(t, nil)
	p := newTestPubMed(srv)

	records, err := p.Search(context.Background(), []string{"heart failure", " SGLT2 "}, testWindow())
	if err != nil {
		t.Fatalf("не ожидали ошибку: %v", err)
	}
	got := terms.get()
	if got[0] != `"heart failure" OR "SGLT2"` {
		t.Fatalf("неверный запрос: %q", got[0])
	}
	if got[1] != "2025/01/01" || got[2] != "2025/03/31" {
		t.Fatalf("неверное окно дат: %s..%s", got[1], got[2])
	}
	if got[3] != "secret" {
		t.Fatalf("ключ API не передан")
	}
	if len(records) != 2 {
		t.Fatalf("ожидали 2 записи, получили %d", len(records))
	}

	first := records[0]
	if first.ID != "111" || first.Title != "Effect of SGLT2 inhibitors" {
		t.Fatalf("неверная запись: %+v", first)
	}
	if first.Type != domain.LiteratureClinicalTrial {
		t.Fatalf("ожидали clinical trial, получили %s", first.Type)
	}
	if !first.PublicationDate.Equal(time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("неверная дата: %v", first.PublicationDate)
	}
	if first.Citations == nil || *first.Citations != 73 {
		t.Fatalf("неверные цитирования: %v", first.Citations)
	}
	if first.Summary != "BACKGROUND: Patients with HFrEF were enrolled.\nRESULTS: Mortality fell by 12%." {
		t.Fatalf("неверная аннотация: %q", first.Summary)
	}
	if len(first.Authors) != 2 || first.Journal != "The Lancet" {
		t.Fatalf("неверные авторы или журнал: %+v", first)
	}

	second := records[1]
	if second.Type != domain.LiteratureMetaAnalysis || second.Journal != "BMJ" {
		t.Fatalf("неверная вторая запись: %+v", second)
	}
	if second.Citations != nil || second.Summary != "" {
		t.Fatalf("без данных цитирования и аннотации поля должны быть пустыми: %+v", second)
	}
	if !second.PublicationDate.Equal(time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)) {
		t.Fatalf("неверная дата из pubdate: %v", second.PublicationDate)
	}
}

func TestSearchServerErrorIsTransient(t *testing.T) {
	srv, _ := newTestServer(t, map[string]int{"esearch": http.StatusServiceUnavailable})
	_, err := newTestPubMed(srv).Search(context.Background(), []string{"x"}, testWindow())
	if !domain.IsTransient(err) {
		t.Fatalf("ожидали временную ошибку, получили %v", err)
	}
}

func TestSearchClientErrorIsPermanent(t *testing.T) {
	srv, _ := newTestServer(t, map[string]int{"esummary": http.StatusBadRequest})
	_, err := newTestPubMed(srv).Search(context.Background(), []string{"x"}, testWindow())
	if err == nil || domain.IsTransient(err) {
		t.Fatalf("ожидали постоянную ошибку, получили %v", err)
	}
}

func TestSearchToleratesEnrichmentFailures(t *testing.T) {
	srv, _ := newTestServer(t, map[string]int{"efetch": http.StatusBadGateway, "icite": http.StatusInternalServerError})
	records, err := newTestPubMed(srv).Search(context.Background(), []string{"x"}, testWindow())
	if err != nil {
		t.Fatalf("сбой обогащения не должен ронять поиск: %v", err)
	}
	if len(records) != 2 || records[0].Citations != nil {
		t.Fatalf("неверный результат: %+v", records)
	}
}

func TestSearchEmptyResult(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/esearch.fcgi", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"esearchresult":{"idlist":[]}}`))
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		t.Errorf("лишний запрос %s", r.URL.Path)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	records, err := newTestPubMed(srv).Search(context.Background(), []string{"x"}, testWindow())
	if err != nil || records == nil || len(records) != 0 {
		t.Fatalf("ожидали пустой срез, получили %v %v", records, err)
	}
}

func TestSearchRejectsEmptyKeywords(t *testing.T) {
	p := NewPubMed(Config{BaseURL: "http://127.0.0.1:0"}, zerolog.Nop())
	if _, err := p.Search(context.Background(), []string{" ", `""`}, testWindow()); err == nil {
		t.Fatalf("ожидали ошибку для пустых ключевых слов")
	}
}

func TestSearchRespectsCancelledContext(t *testing.T) {
	srv, _ := newTestServer(t, nil)
	p := NewPubMed(Config{BaseURL: srv.URL, RPS: 0.001}, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := p.Search(ctx, []string{"x"}, testWindow())
	if err == nil || !errors.Is(err, context.Canceled) && !strings.Contains(err.Error(), "rate limiter") {
		t.Fatalf("ожидали ошибку отменённого контекста, получили %v", err)
	}
}

func TestParsePubDate(t *testing.T) {
	cases := []struct {
		sort, pub string
		want      time.Time
	}{
		{"2025/03/03 00:00", "", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"", "2025 Mar 3", time.Date(2025, 3, 3, 0, 0, 0, 0, time.UTC)},
		{"", "2025 Mar-Apr", time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"", "2024 Dec", time.Date(2024, 12, 1, 0, 0, 0, 0, time.UTC)},
		{"", "2023", time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)},
		{"", "Spring", time.Time{}},
	}
	for _, c := range cases {
		if got := ParsePubDate(c.sort, c.pub); !got.Equal(c.want) {
			t.Fatalf("ParsePubDate(%q, %q) = %v, ожидали %v", c.sort, c.pub, got, c.want)
		}
	}
}

func TestStripMarkup(t *testing.T) {
	if got := StripMarkup("  a <b>bold</b>\n text &amp; more "); got != "a bold text & more" {
		t.Fatalf("неверная очистка: %q", got)
	}
	if got := StripMarkup("plain   text"); got != "plain text" {
		t.Fatalf("неверная очистка: %q", got)
	}
}
