package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"medbrief/internal/app"
	"medbrief/internal/infra/config"
	"medbrief/internal/usecase/insights"
	"medbrief/internal/usecase/monitor"
)

// runtime лениво открывает хранилища и конвейер: справочные команды не поднимают транспорты.
type runtime struct {
	cfg      config.AppConfig
	logger   zerolog.Logger
	stores   *app.Stores
	pipeline *app.Pipeline
}

func (rt *runtime) openStores(ctx context.Context) (*app.Stores, error) {
	if rt.stores != nil {
		return rt.stores, nil
	}
	stores, err := app.OpenStores(ctx, rt.cfg, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.stores = stores
	return stores, nil
}

func (rt *runtime) openPipeline(ctx context.Context) (*app.Pipeline, error) {
	if rt.pipeline != nil {
		return rt.pipeline, nil
	}
	stores, err := rt.openStores(ctx)
	if err != nil {
		return nil, err
	}
	p, err := app.NewPipeline(rt.cfg, stores, rt.logger)
	if err != nil {
		return nil, err
	}
	rt.pipeline = p
	return p, nil
}

func (rt *runtime) close() {
	if rt.pipeline != nil {
		rt.pipeline.Close()
	}
	if rt.stores != nil {
		rt.stores.Close()
	}
}

func newRootCmd(rt *runtime) *cobra.Command {
	root := &cobra.Command{
		Use:           "topicctl",
		Short:         "Управление мониторингом тем медицинской литературы",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	root.AddCommand(
		newListCmd(rt),
		newRunCmd(rt),
		newNextCmd(rt),
		newHistoryCmd(rt),
		newPushesCmd(rt),
	)
	return root
}

func newListCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "Список тем",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stores, err := rt.openStores(cmd.Context())
			if err != nil {
				return err
			}
			topics, err := stores.Topics.ListTopics(cmd.Context())
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tFREQUENCY\tCHANNELS\tTEMPLATE")
			for _, t := range topics {
				fmt.Fprintf(w, "%d\t%s\t%s\t%v\t%s\n", t.ID, t.Name, t.Frequency, t.Channels, t.Template)
			}
			return w.Flush()
		},
	}
}

func newRunCmd(rt *runtime) *cobra.Command {
	var topicID int64
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Немедленно выполнить цикл обновления темы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if topicID <= 0 {
				return errors.New("укажите --topic")
			}
			p, err := rt.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			res, err := p.Scheduler.TriggerNow(cmd.Context(), topicID)
			if errors.Is(err, monitor.ErrCycleInProgress) {
				fmt.Fprintf(cmd.OutOrStdout(), "тема %d: цикл уже выполняется\n", topicID)
				return nil
			}
			if err != nil && res.CycleID == "" {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "cycle %s: %s\n", res.CycleID, res.Status)
			if res.Artifact != nil {
				fmt.Fprintf(out, "report: %s\n", res.Artifact.Path)
			}
			if res.Diff != nil {
				fmt.Fprintf(out, "diff: %s\n", res.Diff.String())
			}
			fmt.Fprintf(out, "channels: %d/%d delivered\n", res.Dispatch.Succeeded, len(res.Dispatch.Records))
			return err
		},
	}
	cmd.Flags().Int64Var(&topicID, "topic", 0, "id темы")
	return cmd
}

func newNextCmd(rt *runtime) *cobra.Command {
	return &cobra.Command{
		Use:   "next",
		Short: "Плановое время следующего запуска каждой темы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			p, err := rt.openPipeline(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := p.Scheduler.NextRuns(cmd.Context())
			if err != nil {
				return err
			}
			loc := rt.cfg.Location()
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tNAME\tFREQUENCY\tNEXT")
			for _, r := range runs {
				next := "never"
				if !r.Never {
					next = r.Next.In(loc).Format(time.DateTime)
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\n", r.Topic.ID, r.Topic.Name, r.Topic.Frequency, next)
			}
			return w.Flush()
		},
	}
}

func newHistoryCmd(rt *runtime) *cobra.Command {
	var topicID int64
	cmd := &cobra.Command{
		Use:   "history",
		Short: "История обновлений темы",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if topicID <= 0 {
				return errors.New("укажите --topic")
			}
			stores, err := rt.openStores(cmd.Context())
			if err != nil {
				return err
			}
			updates, err := insights.NewService(stores.Topics, stores.Snapshots, stores.History).History(cmd.Context(), topicID)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "TIME\tSTATUS\tREPORT")
			for _, u := range updates {
				report := "-"
				if u.Artifact != nil {
					report = u.Artifact.Filename
				}
				fmt.Fprintf(w, "%s\t%s\t%s\n", u.Timestamp.In(rt.cfg.Location()).Format(time.DateTime), u.Status, report)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&topicID, "topic", 0, "id темы")
	return cmd
}

func newPushesCmd(rt *runtime) *cobra.Command {
	var (
		topicID int64
		limit   int
	)
	cmd := &cobra.Command{
		Use:   "pushes",
		Short: "Последние доставки отчётов",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stores, err := rt.openStores(cmd.Context())
			if err != nil {
				return err
			}
			records, err := insights.NewService(stores.Topics, stores.Snapshots, stores.History).PushRecords(cmd.Context(), topicID, limit)
			if err != nil {
				return err
			}
			w := table(cmd.OutOrStdout())
			fmt.Fprintln(w, "ID\tTIME\tTOPIC\tCHANNEL\tSTATUS\tDIFF")
			for _, r := range records {
				diff := "-"
				if r.DiffSummary != nil {
					diff = *r.DiffSummary
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\t%s\n", r.ID, r.PushTime.In(rt.cfg.Location()).Format(time.DateTime), r.TopicName, r.Channel, r.Status, diff)
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&topicID, "topic", 0, "id темы, 0 для всех тем")
	cmd.Flags().IntVar(&limit, "limit", insights.DefaultPushLimit, "сколько записей показать")
	return cmd
}

func table(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}
