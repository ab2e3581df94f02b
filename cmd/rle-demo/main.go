// rle-demo drives the knowledge environment end-to-end from the command
// line: load configuration, ingest a fixture document, optionally answer a
// query (--query),
// optionally run generate-qa against the ingested material, and save the
// result — the CLI/fixture shim callers use instead of embedding this
// module directly.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"

	"github.com/codeready-toolchain/rle/pkg/eventbus"
	"github.com/codeready-toolchain/rle/pkg/knowledge"
	"github.com/codeready-toolchain/rle/pkg/modelclient"
	"github.com/codeready-toolchain/rle/pkg/qa"
	"github.com/codeready-toolchain/rle/pkg/rleconfig"
	"github.com/codeready-toolchain/rle/pkg/rlemodel"
	"github.com/codeready-toolchain/rle/pkg/store"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func main() {
	configDir := flag.String("config-dir", getEnv("CONFIG_DIR", "./deploy/config"), "Path to configuration directory")
	storePath := flag.String("store-dir", "", "Path to a persistent store directory (empty uses a disposable temp store)")
	fixturePath := flag.String("fixture", "", "Path to a JSON fixture document to ingest (empty uses the built-in sample)")
	query := flag.String("query", "", "Question to ask the ingested material (empty skips the query step)")
	genCount := flag.Int("generate-qa", 0, "Number of questions to generate against the ingested material (0 skips)")
	outBase := flag.String("out", "./deploy/data/generated-qa", "Base path (without extension) for generate-qa output")
	flag.Parse()

	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		log.Printf("Warning: could not load %s: %v", envPath, err)
		log.Printf("Continuing with existing environment variables...")
	} else {
		log.Printf("Loaded environment from %s", envPath)
	}

	cfg, err := rleconfig.Load(filepath.Join(*configDir, "rle.yaml"))
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	model := modelclient.New(cfg.Models, cfg.Retry)

	env, err := knowledge.CreateEnv(model, knowledge.EnvConfig{
		StorePath:         *storePath,
		Models:            cfg.Models,
		Retry:             cfg.Retry,
		MaxRecursionDepth: cfg.Recursion.MaxDepth,
	})
	if err != nil {
		log.Fatalf("Failed to create environment: %v", err)
	}

	registry := knowledge.NewEnvironmentRegistry()
	envID, ctx := registry.Register(context.Background(), env)
	defer func() {
		if err := registry.Unregister(envID); err != nil {
			log.Printf("Error disposing environment: %v", err)
		}
	}()

	retention := store.NewRetentionService(env.Store(), store.DefaultRetentionInterval)
	retention.Start(ctx)
	defer retention.Stop()

	bus := eventbus.NewBus(200)
	topic := eventbus.EnvironmentTopic(envID)
	drainProgress(bus, topic)

	doc := sampleDocument()
	if *fixturePath != "" {
		doc, err = loadFixture(*fixturePath)
		if err != nil {
			log.Fatalf("Failed to load fixture %s: %v", *fixturePath, err)
		}
	}

	ingestResults, err := env.Ingest(ctx, []rlemodel.Document{doc}, knowledge.IngestOptions{
		ExtractEntities: true,
		Model:           cfg.DefaultModel,
	})
	if err != nil {
		log.Fatalf("Ingest failed: %v", err)
	}
	for _, r := range ingestResults {
		log.Printf("Ingested %s: %d nodes, %d toc entries, %d entities, %d extraction errors",
			r.DocumentID, r.NodesStored, r.TocEntriesStored, r.EntitiesExtracted, len(r.ExtractionErrors))
	}

	if *query != "" {
		bus.Publish(topic, "query.started", map[string]any{"query": *query})
		res, err := env.Query(ctx, *query, knowledge.QueryOptions{
			MaxIterations: 6,
			Model:         cfg.DefaultModel,
			Refine:        true,
			Verify:        true,
		})
		if err != nil {
			log.Fatalf("Query failed: %v", err)
		}
		bus.Publish(topic, "query.completed", map[string]any{"status": res.Status, "iterations": res.Iterations})
		printJSON("query result", res)
	}

	if *genCount > 0 {
		pipeline := qa.NewPipeline(env, nil)
		result, err := pipeline.Generate(ctx, qa.Options{
			Count:      *genCount,
			Deadline:   time.Now().Add(10 * time.Minute),
			Model:      cfg.DefaultModel,
			OnProgress: bus.PhaseNotifier(topic, "qa.phase"),
		})
		if err != nil {
			log.Fatalf("generate-qa failed: %v", err)
		}
		log.Printf("generate-qa: %d final, %d generated, %d dropped",
			result.Stats.FinalCount, result.Stats.TotalGenerated, len(result.DroppedQuestions))

		if err := qa.Save(result, *outBase, qa.SaveOptions{Store: env.Store()}); err != nil {
			log.Fatalf("Saving generate-qa output failed: %v", err)
		}
		log.Printf("Wrote %s.edn, %s.md", *outBase, *outBase)
	}
}

// drainProgress logs every event published to topic in a background
// goroutine — a CLI-appropriate stand-in for whatever richer surface a
// caller would otherwise attach (dashboard, log aggregator).
func drainProgress(bus *eventbus.Bus, topic string) {
	sub := bus.Subscribe(topic, 64)
	go func() {
		for evt := range sub.Events() {
			slog.Info("progress", "topic", evt.Topic, "type", evt.Type, "payload", evt.Payload)
		}
	}()
}

func loadFixture(path string) (rlemodel.Document, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return rlemodel.Document{}, err
	}
	var doc rlemodel.Document
	if err := json.Unmarshal(raw, &doc); err != nil {
		return rlemodel.Document{}, err
	}
	return doc, nil
}

// sampleDocument is a small built-in fixture so the demo runs with no
// external input: one page with a heading, two paragraphs, and a TOC
// entry pointing at it.
func sampleDocument() rlemodel.Document {
	return rlemodel.Document{
		ID: "sample-doc",
		Pages: []rlemodel.Page{
			{
				Index: 1,
				Nodes: []rlemodel.PageNode{
					{ID: "n1", Kind: rlemodel.NodeHeading, HeadingLevel: rlemodel.H1, Content: "Termination for Convenience"},
					{ID: "n2", Kind: rlemodel.NodeParagraph, ParagraphLevel: rlemodel.ParagraphPlain,
						Content: "Either party may terminate this agreement for convenience upon 30 days' written notice to the other party."},
					{ID: "n3", Kind: rlemodel.NodeParagraph, ParagraphLevel: rlemodel.ParagraphPlain,
						Content: "Upon termination, the terminating party shall pay all fees accrued through the effective date of termination."},
				},
			},
		},
		TOC: []rlemodel.TocEntry{
			{ID: "toc1", Title: "Termination for Convenience", Level: rlemodel.L1, TargetPage: intPtr(1)},
		},
	}
}

func intPtr(n int) *int { return &n }

func printJSON(label string, v any) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		log.Printf("%s: %v (marshal error: %v)", label, v, err)
		return
	}
	log.Printf("%s:\n%s", label, b)
}
