package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"dsda-uploader/internal/app"
	"dsda-uploader/internal/demo"
	"dsda-uploader/internal/sources"

	"github.com/spf13/cobra"
)

// pipelineInput names the inputs of one run over a record.
type pipelineInput struct {
	RecordID     string
	HandInDir    string
	ManualPath   string
	AssetPath    string
	ZipPath      string
	Recording    string
	SkipAnalysis bool
}

func pipelineInputFromFlags(cmd *cobra.Command) (pipelineInput, error) {
	var in pipelineInput
	in.RecordID, _ = cmd.Flags().GetString("record")
	in.HandInDir, _ = cmd.Flags().GetString("handin")
	in.ManualPath, _ = cmd.Flags().GetString("manual")
	in.AssetPath, _ = cmd.Flags().GetString("asset")
	in.ZipPath, _ = cmd.Flags().GetString("zip")
	in.Recording, _ = cmd.Flags().GetString("recording")
	in.SkipAnalysis, _ = cmd.Flags().GetBool("skip-analysis")

	if in.HandInDir == "" && in.ManualPath == "" && in.ZipPath == "" {
		return in, errors.New("nothing to process: give at least one of --handin, --manual or --zip")
	}
	return in, nil
}

// runPipeline collects, resolves, selects and analyzes a record, then prints
// its fields and validation issues.
func runPipeline(ctx context.Context, a *app.DsdaApp, in pipelineInput, withSubmit bool) (*demo.Session, error) {
	s, err := a.NewSession(ctx, in.RecordID, withSubmit)
	if err != nil {
		return nil, err
	}
	fmt.Printf("Record %s\n", s.Record.ID)
	if id := s.Record.Identity(); id != nil {
		fmt.Printf("Accepted as %d/%d\n", id.RecordID, id.FileID)
	}

	if in.HandInDir != "" {
		srcs, err := sources.Discover(in.HandInDir)
		if err != nil {
			return nil, err
		}
		report, err := s.Collect(ctx, srcs...)
		if err != nil {
			return nil, err
		}
		fmt.Printf("Collected %d values from %d sources\n", len(report.Candidates), len(srcs))
		for _, f := range report.Failures {
			fmt.Printf("  ! %v\n", f)
		}
	}

	if in.ManualPath != "" {
		edits, err := sources.LoadManual(in.ManualPath)
		if err != nil {
			return nil, err
		}
		if err := edits.Apply(s.Record); err != nil {
			return nil, err
		}
		if len(edits) > 0 {
			fmt.Printf("Applied %d manual values\n", len(edits))
		}
	}

	if in.AssetPath != "" {
		abs, err := filepath.Abs(in.AssetPath)
		if err != nil {
			return nil, fmt.Errorf("resolving asset path: %w", err)
		}
		asset, err := s.ResolveAsset(ctx, demo.AssetRequest{Name: filepath.Base(abs), Path: abs})
		switch {
		case errors.Is(err, demo.ErrUserDecisionRequired):
			fmt.Println("Asset is unknown to the cache, the registry and the index.")
		case err != nil:
			return nil, err
		}
		printAsset(asset)
	}

	if in.ZipPath != "" {
		sel, err := s.LoadRecordings(in.ZipPath)
		if err != nil {
			return nil, err
		}
		if in.Recording != "" {
			if err := s.OverrideRecording(in.Recording); err != nil {
				return nil, err
			}
			sel = s.Record.Selection()
		}
		printSelection(sel)
	}

	if !in.SkipAnalysis && s.Record.Selection() != nil && s.Record.Asset().State.Resolved() {
		start := time.Now()
		fmt.Println("Playing back the selected recording...")
		res, err := s.Analyze(ctx)
		var desync *demo.DesyncError
		var failure *demo.AnalysisFailure
		switch {
		case errors.As(err, &desync):
			return nil, err
		case errors.As(err, &failure):
			fmt.Printf("  ! %v\n", failure)
		case err != nil:
			return nil, err
		default:
			fmt.Printf("Analysis finished in %s: %s on %s\n",
				time.Since(start).Round(time.Millisecond), res.Time, res.Level)
		}
	}

	printFields(s.Record.Fields())
	printIssues(s.Validate())
	return s, nil
}

// submitSession optionally uploads the asset and then submits the record.
func submitSession(ctx context.Context, s *demo.Session, upload bool) error {
	if upload && s.Record.Asset().UploadRequired() {
		fmt.Printf("Uploading %s...\n", s.Record.Asset().Name)
		attempt, err := s.UploadAsset(ctx)
		if err != nil {
			printAttemptErrors(attempt)
			return err
		}
		fmt.Printf("Asset registered at %s\n", s.Record.Asset().Location)
	}

	attempt, err := s.Submit(ctx)
	if err != nil {
		printAttemptErrors(attempt)
		return err
	}
	if attempt.Identity != nil {
		fmt.Printf("Accepted as %d/%d\n", attempt.Identity.RecordID, attempt.Identity.FileID)
	} else {
		fmt.Println("Accepted.")
	}
	return nil
}

func printAsset(a demo.Asset) {
	fmt.Printf("Asset:        %s\n", a.Name)
	fmt.Printf("  Checksum:   %s\n", shortChecksum(a.Checksum))
	fmt.Printf("  State:      %s\n", a.State)
	if a.Location != "" {
		fmt.Printf("  Location:   %s\n", a.Location)
	}
	if a.UploadRequired() {
		fmt.Println("  Upload required before submission")
	}
}

func printSelection(sel *demo.Selection) {
	rows := make([][]string, 0, len(sel.Candidates))
	for i, c := range sel.Candidates {
		mark := ""
		if i == sel.Selected {
			mark = "*"
		}
		rows = append(rows, []string{mark, c.Filename, strconv.Itoa(c.Score), strconv.Itoa(len(c.Data))})
	}
	fmt.Println(renderTable([]string{"", "Recording", "Score", "Bytes"}, rows,
		[]columnAlignment{alignLeft, alignLeft, alignRight, alignRight}))
	if sel.Selected < 0 {
		fmt.Println("Several recordings scored equally; choose one with --recording.")
	}
}

func printFields(fields demo.Fields) {
	rows := make([][]string, 0, len(demo.RecognizedFields))
	for _, f := range demo.RecognizedFields {
		rec := fields[f]
		value, source := "", ""
		if rec.Chosen != nil {
			value = rec.Chosen.Value
			source = rec.Chosen.Source.Label()
		}
		rows = append(rows, []string{string(f), value, string(rec.Provenance), source})
	}
	fmt.Println(renderTable([]string{"Field", "Value", "Provenance", "Source"}, rows, nil))
}

func printIssues(issues []demo.Issue) {
	if len(issues) == 0 {
		fmt.Println("Ready to submit.")
		return
	}
	for _, is := range issues {
		fmt.Printf("  [%s] %s: %s\n", is.Severity, is.Field, is.Message)
	}
	if !demo.CanSubmit(issues) {
		fmt.Printf("%d blocking issues\n", len(demo.Blocking(issues)))
	}
}

func printAttemptErrors(attempt *demo.Attempt) {
	if attempt == nil {
		return
	}
	for _, msg := range attempt.Errors {
		fmt.Printf("  ! %s\n", msg)
	}
}

func printAttempts(attempts []*demo.Attempt) {
	rows := make([][]string, 0, len(attempts))
	for _, at := range attempts {
		identity := ""
		if at.Identity != nil {
			identity = fmt.Sprintf("%d/%d", at.Identity.RecordID, at.Identity.FileID)
		}
		rows = append(rows, []string{
			at.AttemptedAt.Local().Format("2006-01-02 15:04:05"),
			at.RecordID,
			string(at.Kind),
			string(at.Outcome),
			identity,
			strings.Join(at.Errors, "; "),
		})
	}
	fmt.Println(renderTable([]string{"When", "Record", "Kind", "Outcome", "Identity", "Errors"}, rows, nil))
}
