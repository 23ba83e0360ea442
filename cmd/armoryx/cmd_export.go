package main

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/yairfalse/armoryx/internal/admin"
	"github.com/yairfalse/armoryx/internal/export"
	"github.com/yairfalse/armoryx/internal/filter"
)

// cliPrincipal is the caller for exports run from the command line.
var cliPrincipal = &admin.Principal{Username: "cli", IsStaff: true, IsSuperuser: true}

// objectPutter is the S3 operation used for uploads.
type objectPutter interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// newS3Client is replaced in tests.
var newS3Client = func(ctx context.Context, region, profile string) (objectPutter, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	if profile != "" {
		opts = append(opts, awsconfig.WithSharedConfigProfile(profile))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return s3.NewFromConfig(cfg), nil
}

type exportOptions struct {
	output   string
	search   string
	filters  []string
	columns  []string
	ids      []string
	ordering string
	bucket   string
	prefix   string
	region   string
}

func newExportCmd(a *app) *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export <namespace> <entity> <format>",
		Short: "Export filtered records to JSON, Excel or CSV",
		Long: `Export the records of an entity with the same filters the changelist
accepts. Formats: json, excel, csv.

The file is written to --output (a file or a directory, default the current
directory) and, with --s3-bucket, uploaded to S3.`,
		Example: `  armoryx export instances instance excel
  armoryx export instances instance json -q web --filter state=running
  armoryx export vpc vpc csv --columns vpc_id,vpc_name -o /tmp
  armoryx export instances instance excel --s3-bucket reports --s3-prefix armoryx/`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, err := a.load(cmd.Context())
			if err != nil {
				return err
			}
			return runExport(ctx, cmd, a, args[0], args[1], args[2], opts)
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.output, "output", "o", "", "Output file or directory")
	f.StringVarP(&opts.search, "search", "q", "", "Free-text search")
	f.StringArrayVarP(&opts.filters, "filter", "f", nil, "Field filter as key=value (repeatable), e.g. state=running")
	f.StringSliceVar(&opts.columns, "columns", nil, "Columns to export (default: the list display)")
	f.StringSliceVar(&opts.ids, "ids", nil, "Export only these primary keys")
	f.StringVar(&opts.ordering, "order", "", "Changelist ordering, e.g. -2.1")
	f.StringVar(&opts.bucket, "s3-bucket", "", "Upload the file to this S3 bucket")
	f.StringVar(&opts.prefix, "s3-prefix", "", "Key prefix for the S3 upload")
	f.StringVar(&opts.region, "s3-region", "", "Region of the S3 bucket")
	return cmd
}

// exportQuery turns command-line flags into changelist parameters.
func exportQuery(opts exportOptions) (filter.Query, error) {
	v := url.Values{}
	for _, kv := range opts.filters {
		key, value, ok := strings.Cut(kv, "=")
		if !ok || key == "" {
			return filter.Query{}, fmt.Errorf("filter %q: want key=value", kv)
		}
		v.Add(key, value)
	}
	if opts.search != "" {
		v.Set("q", opts.search)
	}
	if opts.ordering != "" {
		v.Set("o", opts.ordering)
	}
	for _, id := range opts.ids {
		v.Add("selected_ids[]", id)
	}
	return filter.FromValues(v), nil
}

func runExport(ctx context.Context, cmd *cobra.Command, a *app, namespace, entity, format string, opts exportOptions) error {
	query, err := exportQuery(opts)
	if err != nil {
		return err
	}

	store, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	reg, err := a.registry(ctx, store)
	if err != nil {
		return err
	}
	exp, err := a.exporter(reg, nil)
	if err != nil {
		return err
	}
	lang, err := admin.ParseLanguage(a.cfg.Language)
	if err != nil {
		return err
	}

	ctx = admin.WithPrincipal(ctx, cliPrincipal)
	ctx = admin.WithLanguage(ctx, lang)

	res, err := exp.Export(ctx, export.Request{
		Namespace: namespace,
		Entity:    entity,
		Format:    format,
		Query:     query,
		Columns:   opts.columns,
	})
	if err != nil {
		return err
	}

	art := res.Artifact
	dest, err := outputPath(opts.output, art.Filename)
	if err != nil {
		return err
	}
	if err := os.WriteFile(dest, art.Body, 0o644); err != nil {
		return fmt.Errorf("write export: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Wrote %s (%s, %s rows, %d columns)\n",
		dest, humanize.Bytes(uint64(len(art.Body))), humanize.Comma(int64(res.Rows)), len(res.Columns))

	if opts.bucket == "" {
		return nil
	}
	client, err := newS3Client(ctx, opts.region, a.cfg.AWS.Profile)
	if err != nil {
		return err
	}
	key := path.Join(opts.prefix, art.Filename)
	_, err = client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(opts.bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(art.Body),
		ContentLength: aws.Int64(int64(len(art.Body))),
		ContentType:   aws.String(art.ContentType),
		Metadata:      map[string]string{"export-id": res.ID},
	})
	if err != nil {
		return fmt.Errorf("upload s3://%s/%s: %w", opts.bucket, key, err)
	}
	fmt.Fprintf(out, "Uploaded s3://%s/%s\n", opts.bucket, key)
	return nil
}

// outputPath resolves --output: empty means the current directory, an
// existing directory receives the artifact's own filename.
func outputPath(output, filename string) (string, error) {
	if output == "" {
		return filename, nil
	}
	info, err := os.Stat(output)
	switch {
	case err == nil && info.IsDir():
		return filepath.Join(output, filename), nil
	case err == nil || os.IsNotExist(err):
		return output, nil
	default:
		return "", fmt.Errorf("output %s: %w", output, err)
	}
}
