// Command licensectl issues and inspects tenant licenses and seals project
// scheduler passwords under a tenant key.
package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"auditgrid.org/internal/config"
	"auditgrid.org/internal/license"
	pgstore "auditgrid.org/internal/store/pg"
)

const usage = `usage: licensectl [-config path] <command> [flags]

commands:
  issue -tenant ID [-start RFC3339] [-end RFC3339]   create a license (default window: now + 6 months)
  show  -tenant ID                                   decrypt and print the latest license
  seal  -tenant ID -project N -user NAME             seal a scheduler password read from stdin
`

func main() {
	if err := run(os.Args[1:], os.Stdin, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "licensectl: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdin io.Reader, stdout io.Writer) error {
	root := flag.NewFlagSet("licensectl", flag.ContinueOnError)
	configPath := root.String("config", os.Getenv("AUDITGRID_CONFIG"), "Path to YAML config")
	root.Usage = func() { fmt.Fprint(root.Output(), usage) }
	if err := root.Parse(args); err != nil {
		return err
	}
	if root.NArg() == 0 {
		root.Usage()
		return errors.New("missing command")
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		return err
	}
	codec, err := license.NewCodec(cfg.License.MasterKey)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	cmd, rest := root.Arg(0), root.Args()[1:]
	switch cmd {
	case "issue", "show", "seal":
	default:
		return fmt.Errorf("unknown command %q", cmd)
	}

	store, err := pgstore.Open(cfg.Database.DSN)
	if err != nil {
		return err
	}
	defer store.Close()

	switch cmd {
	case "issue":
		return issue(ctx, store, codec, rest, stdout)
	case "show":
		return show(ctx, store, codec, rest, stdout)
	default:
		return seal(ctx, store, codec, rest, stdin, stdout)
	}
}

func issue(ctx context.Context, store *pgstore.Store, codec *license.Codec, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("issue", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "Tenant external id")
	startArg := fs.String("start", "", "Start date (RFC3339)")
	endArg := fs.String("end", "", "End date (RFC3339)")
	if err := fs.Parse(args); err != nil {
		return err
	}
	start, err := parseDate(*startArg)
	if err != nil {
		return fmt.Errorf("start: %w", err)
	}
	end, err := parseDate(*endArg)
	if err != nil {
		return fmt.Errorf("end: %w", err)
	}

	rec, err := license.Issue(codec, *tenant, start, end, time.Now())
	if err != nil {
		return err
	}
	rec, err = store.CreateLicense(ctx, rec)
	if err != nil {
		return fmt.Errorf("store license: %w", err)
	}
	fmt.Fprintf(stdout, "license %s for %s: %s .. %s\n", rec.ID, rec.TenantExternalID,
		rec.StartDate.Format(time.RFC3339), rec.EndDate.Format(time.RFC3339))
	return nil
}

type licenseReader interface {
	LatestLicense(ctx context.Context, tenantExternalID string) (license.Record, error)
}

type credentialWriter interface {
	ProjectTenant(ctx context.Context, projectID int64) (string, error)
	SetSchedulerCredential(ctx context.Context, projectID int64, userName string, sealed license.Sealed) error
}

func show(ctx context.Context, store licenseReader, codec *license.Codec, args []string, stdout io.Writer) error {
	fs := flag.NewFlagSet("show", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "Tenant external id")
	if err := fs.Parse(args); err != nil {
		return err
	}
	rec, err := store.LatestLicense(ctx, strings.TrimSpace(*tenant))
	if err != nil {
		return fmt.Errorf("load license: %w", err)
	}
	lic, err := license.Open(codec, rec, rec.TenantExternalID)
	if err != nil {
		return err
	}
	state := "expired"
	if lic.Active(time.Now()) {
		state = "active"
	}
	fmt.Fprintf(stdout, "license %s for %s: %s .. %s (%s)\n", rec.ID, lic.TenantExternalID,
		lic.StartDate.Format(time.RFC3339), lic.EndDate.Format(time.RFC3339), state)
	return nil
}

func seal(ctx context.Context, store credentialWriter, codec *license.Codec, args []string, stdin io.Reader, stdout io.Writer) error {
	fs := flag.NewFlagSet("seal", flag.ContinueOnError)
	tenant := fs.String("tenant", "", "Tenant external id")
	project := fs.Int64("project", 0, "Project id")
	user := fs.String("user", "", "Scheduler user name")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *project <= 0 || strings.TrimSpace(*user) == "" {
		return errors.New("-project and -user are required")
	}
	owner, err := store.ProjectTenant(ctx, *project)
	if err != nil {
		return fmt.Errorf("load project %d: %w", *project, err)
	}
	// The operator may type the GUID in any case; the envelope uses the stored form.
	if !strings.EqualFold(strings.TrimSpace(*tenant), owner) {
		return fmt.Errorf("project %d belongs to tenant %s, not %s", *project, owner, strings.TrimSpace(*tenant))
	}
	password, err := readSecret(stdin)
	if err != nil {
		return err
	}
	sealed, err := codec.EncryptString(password, owner)
	if err != nil {
		return err
	}
	if err := store.SetSchedulerCredential(ctx, *project, strings.TrimSpace(*user), sealed); err != nil {
		return fmt.Errorf("store credential: %w", err)
	}
	fmt.Fprintf(stdout, "sealed scheduler credential for project %d\n", *project)
	return nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// readSecret reads the first line of r.
func readSecret(r io.Reader) (string, error) {
	line, err := bufio.NewReader(r).ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", err
	}
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return "", errors.New("empty password on stdin")
	}
	return line, nil
}
