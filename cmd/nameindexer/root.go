// Licensed to Elasticsearch B.V. under one or more contributor
// license agreements. See the NOTICE file distributed with
// this work for additional information regarding copyright
// ownership. Elasticsearch B.V. licenses this file to you under
// the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing,
// software distributed under the License is distributed on an
// "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
// KIND, either express or implied.  See the License for the
// specific language governing permissions and limitations
// under the License.

package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
	"go.elastic.co/apm/module/apmelasticsearch/v2"
	"go.elastic.co/apm/v2"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/elastic/go-nameindexer"
)

// envPrefix prefixes the environment variables read for each flag.
const envPrefix = "NAMEINDEXER"

type ingestCommand struct {
	stdout io.Writer
	stderr io.Writer
	fs     afero.Fs

	DataDir          string
	Ext              string
	URLs             []string
	Username         string
	Password         string
	Index            string
	BatchSize        int
	MaxRequests      int
	CompressionLevel int
	FlushTimeout     time.Duration
	Pipeline         string
	IdentityKey      string
	IncludeDate      bool
	OnMalformed      string
	OnFileError      string
	CreateIndex      bool
	Shards           int
	Replicas         int
	OutcomeLog       string
	LogLevel         string
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	ic := &ingestCommand{
		stdout: stdout,
		stderr: stderr,
		fs:     afero.NewOsFs(),
	}
	rc := &cobra.Command{
		Use:   "nameindexer",
		Short: "Upload yearly name statistics to Elasticsearch.",
		Long: `Reads every per-name JSON file of a directory and writes one document per
year to an Elasticsearch index, using bulk requests.

Each input file holds a single record:

	{"gender":"F","name":"Mary","values":{"2000":"10"},"percents":{"2000":"0.5"}}

A year is uploaded only when it is present in both values and percents.
Documents are identified by year, name and gender, so running the command
again updates documents instead of duplicating them.
`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.NoArgs,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setAllConfig(viper.New(), cmd.Flags())
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt)
			defer cancel()
			return ic.Run(ctx)
		},
	}

	flags := rc.Flags()
	flags.StringP("config", "c", "", "Configuration file to read from.")
	flags.StringVarP(&ic.DataDir, "data-dir", "d", "./data", "Directory holding the input files.")
	flags.StringVar(&ic.Ext, "ext", "", "Only read input files with this extension, for example .json.")
	flags.StringSliceVar(&ic.URLs, "es-url", []string{"http://localhost:9200"}, "Elasticsearch URL. May be repeated.")
	flags.StringVar(&ic.Username, "username", "", "Elasticsearch username.")
	flags.StringVar(&ic.Password, "password", "", "Elasticsearch password.")
	flags.StringVarP(&ic.Index, "index", "i", "names", "Index to write documents to.")
	flags.IntVar(&ic.BatchSize, "batch-size", nameindexer.DefaultBatchSize, "Number of documents in each bulk request.")
	flags.IntVar(&ic.MaxRequests, "max-requests", nameindexer.DefaultMaxRequests, "Number of bulk requests allowed in flight.")
	flags.IntVar(&ic.CompressionLevel, "compression-level", 0, "Gzip compression level of bulk requests, from -1 to 9. 0 disables compression.")
	flags.DurationVar(&ic.FlushTimeout, "flush-timeout", 0, "Timeout applied to each bulk request. 0 disables the timeout.")
	flags.StringVar(&ic.Pipeline, "pipeline", "", "Ingest pipeline applied to uploaded documents.")
	flags.StringVar(&ic.IdentityKey, "identity-key", nameindexer.DefaultIdentityKey.String(), "Ordered fields of the document ID, joined by '-'.")
	flags.BoolVar(&ic.IncludeDate, "include-date", false, "Add a date field holding the first instant of each document's year.")
	flags.StringVar(&ic.OnMalformed, "on-malformed", string(nameindexer.MalformedSkipEntry), "Handling of year-entries that are not numbers; one of: skip-entry, skip-file.")
	flags.StringVar(&ic.OnFileError, "on-file-error", string(nameindexer.FileErrorAbort), "Handling of unreadable or invalid input files; one of: abort, skip.")
	flags.BoolVar(&ic.CreateIndex, "create-index", false, "Create the index with the document mapping before uploading.")
	flags.IntVar(&ic.Shards, "shards", nameindexer.DefaultShards, "Number of primary shards of a created index.")
	flags.IntVar(&ic.Replicas, "replicas", nameindexer.DefaultReplicas, "Number of replicas of a created index.")
	flags.StringVar(&ic.OutcomeLog, "outcome-log", "", "File receiving one JSON line per bulk request. Rotated when it grows large.")
	flags.StringVar(&ic.LogLevel, "log-level", "info", "Log level; one of: debug, info, warn, error.")

	rc.SetOut(stdout)
	rc.SetErr(stderr)
	return rc
}

// Run uploads the input directory and prints a summary.
func (ic *ingestCommand) Run(ctx context.Context) (err error) {
	logger, err := ic.newLogger()
	if err != nil {
		return err
	}
	defer logger.Sync()

	identityKey, err := nameindexer.ParseIdentityKey(ic.IdentityKey)
	if err != nil {
		return err
	}

	var tracer *apm.Tracer
	if os.Getenv("ELASTIC_APM_SERVER_URL") != "" {
		tracer = apm.DefaultTracer()
		defer tracer.Flush(nil)
	}

	client, err := elasticsearch.NewClient(elasticsearch.Config{
		Addresses: ic.URLs,
		Username:  ic.Username,
		Password:  ic.Password,
		Transport: apmelasticsearch.WrapRoundTripper(http.DefaultTransport),
	})
	if err != nil {
		return fmt.Errorf("error creating Elasticsearch client: %w", err)
	}

	if ic.CreateIndex {
		if err := nameindexer.CreateIndex(ctx, client, ic.Index, nameindexer.IndexSettings{
			Shards:   ic.Shards,
			Replicas: ic.Replicas,
		}); err != nil {
			return err
		}
		logger.Info("index ready", zap.String("index", ic.Index))
	}

	var observer nameindexer.Observer = nameindexer.NopObserver{}
	if ic.OutcomeLog != "" {
		w := &lumberjack.Logger{
			Filename:   ic.OutcomeLog,
			MaxSize:    100, // megabytes
			MaxBackups: 3,
		}
		defer w.Close()
		outcomes := nameindexer.NewOutcomeLog(w)
		defer func() {
			if werr := outcomes.Err(); werr != nil {
				logger.Warn("failed to write outcome log", zap.Error(werr))
			}
		}()
		observer = outcomes
	}

	cfg := nameindexer.Config{
		Logger:             logger,
		Tracer:             tracer,
		Index:              ic.Index,
		Pipeline:           ic.Pipeline,
		BatchSize:          ic.BatchSize,
		MaxRequests:        ic.MaxRequests,
		CompressionLevel:   ic.CompressionLevel,
		FlushTimeout:       ic.FlushTimeout,
		IdentityKey:        identityKey,
		IncludeDerivedDate: ic.IncludeDate,
		FileErrorPolicy:    nameindexer.FileErrorPolicy(ic.OnFileError),
		MalformedPolicy:    nameindexer.MalformedPolicy(ic.OnMalformed),
		Observer:           observer,
	}
	uploader, err := nameindexer.NewUploader(client, cfg)
	if err != nil {
		return err
	}
	driver, err := nameindexer.NewDriver(uploader, cfg)
	if err != nil {
		return err
	}

	src := nameindexer.NewDirSource(ic.fs, ic.DataDir)
	src.Ext = ic.Ext
	agg, err := driver.Run(ctx, src)
	ic.printSummary(agg)
	return err
}

func (ic *ingestCommand) printSummary(agg nameindexer.RunAggregate) {
	fmt.Fprintln(ic.stdout, "- Done! -")
	fmt.Fprintf(ic.stdout, "Files found: %d\n", agg.FilesFound)
	fmt.Fprintf(ic.stdout, "Files processed: %d\n", agg.FilesSeen)
	if agg.FilesSkipped > 0 {
		fmt.Fprintf(ic.stdout, "Files skipped: %d\n", agg.FilesSkipped)
	}
	fmt.Fprintf(ic.stdout, "Uploads performed: %d\n", agg.BatchesSucceeded)
	if agg.BatchesFailed > 0 {
		fmt.Fprintf(ic.stdout, "Uploads failed: %d\n", agg.BatchesFailed)
	}
	fmt.Fprintf(ic.stdout, "Total documents: %d\n", agg.DocumentsTransformed)
	if agg.DocumentsMalformed > 0 {
		fmt.Fprintf(ic.stdout, "Malformed entries: %d\n", agg.DocumentsMalformed)
	}
}

func (ic *ingestCommand) newLogger() (*zap.Logger, error) {
	level, err := zapcore.ParseLevel(ic.LogLevel)
	if err != nil {
		return nil, err
	}
	enc := zap.NewProductionEncoderConfig()
	enc.EncodeTime = zapcore.ISO8601TimeEncoder
	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(enc),
		zapcore.AddSync(ic.stderr),
		level,
	)
	return zap.New(core), nil
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order.
//
// Environment variables are capitalized flag names with dashes replaced by
// underscores, prefixed with envPrefix plus an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	if err := v.BindPFlags(flags); err != nil {
		return err
	}

	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	if c := v.GetString("config"); c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}
		for _, key := range v.AllKeys() {
			if !validTags[key] {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	var flagErr error
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil || f.Changed {
			// Flags take precedence. Setting a string slice again would
			// append to the value rather than replace it.
			return
		}
		var value string
		if f.Value.Type() == "stringSlice" {
			// v.GetString returns "" for a slice read from a config file.
			value = strings.Join(v.GetStringSlice(f.Name), ",")
		} else {
			value = v.GetString(f.Name)
		}
		flagErr = f.Value.Set(value)
	})
	return flagErr
}
