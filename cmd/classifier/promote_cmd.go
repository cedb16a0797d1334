package main

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/fiscalclass/engine/internal/config"
	"github.com/fiscalclass/engine/pkg/goldenset"
	"github.com/fiscalclass/engine/pkg/kb"
)

func runPromoteCmd(args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("promote", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var entry kb.GoldenSetEntry
	var sourceUser, sourceTenant string
	cmd.StringVar(&entry.DescriptionRaw, "description-raw", "", "original product description (required)")
	cmd.StringVar(&entry.DescriptionEnriched, "description-enriched", "", "normalized description used as match key (required)")
	cmd.StringVar(&entry.GTIN, "gtin", "", "GTIN/barcode, if known")
	cmd.StringVar(&entry.NCMCorrect, "ncm", "", "confirmed NCM code (required)")
	cmd.StringVar(&entry.CESTCorrect, "cest", "", "confirmed CEST code, or empty if not applicable")
	cmd.StringVar(&sourceUser, "user", "", "user id making the correction (required)")
	cmd.StringVar(&sourceTenant, "tenant", "", "tenant id (required)")

	if err := cmd.Parse(args); err != nil {
		return 2
	}
	entry.SourceUser = sourceUser
	entry.SourceTenant = sourceTenant

	if entry.DescriptionEnriched == "" || entry.NCMCorrect == "" || sourceUser == "" || sourceTenant == "" {
		fmt.Fprintln(stderr, "promote: --description-enriched, --ncm, --user, and --tenant are required")
		cmd.Usage()
		return 2
	}

	ctx := context.Background()
	cfg := config.Load()
	svc, err := newServices(ctx, cfg)
	if err != nil {
		fmt.Fprintf(stderr, "promote: init services: %v\n", err)
		return 1
	}
	defer svc.metrics.Shutdown(ctx)

	promoted, err := goldenset.Promote(ctx, svc.goldenSet, entry)
	if err != nil {
		fmt.Fprintf(stderr, "promote: %v\n", err)
		return 1
	}

	fmt.Fprintf(stdout, "promote: entry %s promoted at version %d\n", promoted.EntryID, promoted.Version)
	return 0
}
