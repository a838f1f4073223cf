package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mohammad-safakhou/polyview/config"
	"github.com/mohammad-safakhou/polyview/internal/llm"
	"github.com/mohammad-safakhou/polyview/internal/research"
	"github.com/mohammad-safakhou/polyview/internal/search"
	srv "github.com/mohammad-safakhou/polyview/internal/server"
	"github.com/mohammad-safakhou/polyview/internal/stream"
	"github.com/mohammad-safakhou/polyview/internal/telemetry"
)

func main() {
	var root = &cobra.Command{Use: "polyview"}

	var serveAddr string
	var serve = &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if serveAddr == "" {
				serveAddr = os.Getenv("POLYVIEW_HTTP_ADDR")
			}
			if serveAddr == "" {
				serveAddr = ":8080"
			}
			return srv.Run(serveAddr)
		},
	}
	serve.Flags().StringVar(&serveAddr, "addr", ":8080", "listen address")

	var asJSON bool
	var researchCmd = &cobra.Command{
		Use:   "research <topic>",
		Short: "Run one research pass and print the report",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			topic := strings.TrimSpace(strings.Join(args, " "))
			report, err := runOnce(cmd.Context(), topic)
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(report)
			}
			printReport(report)
			return nil
		},
	}
	researchCmd.Flags().BoolVar(&asJSON, "json", false, "print the report as JSON")

	root.AddCommand(serve, researchCmd)
	_ = root.Execute()
}

// runOnce wires the pipeline without the HTTP layer and runs a single topic
// to completion, printing progress to stderr.
func runOnce(ctx context.Context, topic string) (*research.Report, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}
	tele := telemetry.NewTelemetry(cfg.Telemetry)

	client, err := llm.NewClient(cfg.LLM, tele, log.New(os.Stderr, "[LLM] ", log.LstdFlags))
	if err != nil {
		return nil, err
	}

	providers := search.NewProviders(cfg.Sources)
	if len(providers) == 0 {
		return nil, fmt.Errorf("no search providers configured (set NEWSAPI_API_KEY, BRAVE_SEARCH_KEY or SERPER_API_KEY)")
	}
	var hydrator *search.Hydrator
	if cfg.Sources.Hydrate {
		hydrator = search.NewHydrator(log.New(os.Stderr, "[HYDRATE] ", log.LstdFlags))
	}

	controller := research.NewController(
		research.Params{
			MaxIterations:      cfg.Research.MaxIterations,
			MinArticles:        cfg.Research.MinArticles,
			MinPerspectives:    cfg.Research.MinPerspectives,
			RelevanceThreshold: cfg.Research.RelevanceThreshold,
		},
		providers,
		hydrator,
		client,
		research.NewExtractionAdapter(client, cfg.Research.ExtractionConcurrency, nil),
		research.NewEngine(client, client, nil),
		research.NewSynthesisEngine(client, nil),
		client,
		tele,
		log.New(os.Stderr, "[RESEARCH] ", log.LstdFlags),
	)

	refined, err := client.RefineTopic(ctx, topic)
	switch {
	case errors.Is(err, research.ErrNeedsClarification):
		return nil, fmt.Errorf("topic %q needs clarification: please describe what you want researched", topic)
	case err != nil:
		log.Printf("[CLI] topic refinement failed, using raw topic: %v", err)
	case refined != "":
		topic = refined
	}

	if cfg.General.MaxRunTime > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.General.MaxRunTime)
		defer cancel()
	}

	state, err := controller.Run(ctx, topic, consoleSink{})
	if err != nil {
		return nil, err
	}
	return &research.Report{
		Topic:        state.Topic,
		Perspectives: state.FinalPerspectives,
		Summary:      state.Summary,
	}, nil
}

// consoleSink echoes status events to stderr and summary tokens to stdout so
// the report summary streams live during a CLI run.
type consoleSink struct{}

func (consoleSink) Emit(ev stream.Event) {
	switch ev.Type {
	case stream.TypeStatus:
		fmt.Fprintf(os.Stderr, "* %s\n", ev.Message)
	case stream.TypeSummaryToken:
		fmt.Fprint(os.Stdout, ev.Token)
	case stream.TypeError:
		fmt.Fprintf(os.Stderr, "! %s\n", ev.Message)
	case stream.TypeEndOfStream:
		fmt.Fprintln(os.Stdout)
	}
}

func printReport(report *research.Report) {
	fmt.Printf("\nTopic: %s\n", report.Topic)
	fmt.Printf("Perspectives (%d):\n", len(report.Perspectives))
	for i, p := range report.Perspectives {
		fmt.Printf("\n%d. %s\n", i+1, p.PerspectiveName)
		for _, arg := range p.CoreArguments {
			fmt.Printf("   - %s\n", arg)
		}
		if p.Narrative != "" {
			fmt.Printf("   %s\n", p.Narrative)
		}
	}
	if report.Summary != "" {
		fmt.Printf("\nSummary:\n%s\n", report.Summary)
	}
}
