package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/fiscalclass/engine/internal/config"
	"github.com/fiscalclass/engine/pkg/classification"
	"github.com/fiscalclass/engine/pkg/dispatcher"
)

func runBatchCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("batch", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		tenantID        string
		inputPath       string
		flowKind        string
		limit           int
		resumeFrom      string
		forceReclassify bool
	)
	cmd.StringVar(&tenantID, "tenant", "", "tenant id (required)")
	cmd.StringVar(&inputPath, "input", "", "path to a JSON file containing an array of products (required)")
	cmd.StringVar(&flowKind, "flow", "confirmation", "confirmation or determination")
	cmd.IntVar(&limit, "limit", 0, "cap the number of products processed (0 = no limit)")
	cmd.StringVar(&resumeFrom, "resume-from", "", "product id to resume from, skipping earlier ids")
	cmd.BoolVar(&forceReclassify, "force", false, "reclassify products even if a recent non-error classification exists")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if tenantID == "" || inputPath == "" {
		fmt.Fprintln(stderr, "batch: --tenant and --input are required")
		cmd.Usage()
		return 2
	}

	data, err := os.ReadFile(inputPath)
	if err != nil {
		fmt.Fprintf(stderr, "batch: read input: %v\n", err)
		return 1
	}
	var products []classification.Product
	if err := json.Unmarshal(data, &products); err != nil {
		fmt.Fprintf(stderr, "batch: parse input: %v\n", err)
		return 1
	}

	kind := classification.FlowConfirmation
	if flowKind == "determination" {
		kind = classification.FlowDetermination
	}

	ctx := context.Background()
	cfg := config.Load()
	svc, err := newServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "batch: init services: %v\n", err)
		return 1
	}
	defer svc.metrics.Shutdown(ctx)

	batch, err := svc.newBatch(dispatcher.Request{
		TenantID:        tenantID,
		Products:        products,
		FlowKind:        kind,
		Limit:           limit,
		ResumeFrom:      resumeFrom,
		ForceReclassify: forceReclassify,
	})
	if err != nil {
		fmt.Fprintf(stderr, "batch: enqueue: %v\n", err)
		return 1
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for ev := range batch.Events() {
			fmt.Fprintf(stdout, "[%s] product=%s classification=%s completed=%d/%d\n",
				ev.Kind, ev.ProductID, ev.ClassificationID, ev.Completed, ev.Total)
		}
	}()

	outcome, err := batch.Run(ctx)
	<-done
	if err != nil {
		fmt.Fprintf(stderr, "batch: run: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "batch finished: outcome=%s\n", outcome)
	if outcome == dispatcher.OutcomeFailure {
		return 1
	}
	return 0
}
