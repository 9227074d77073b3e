package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

type queryFlags struct {
	file       string
	collection string
	filter     string
	sort       string
	skip       int
	limit      int
	projection string
	indexes    []string
}

func newQueryCmd() *cobra.Command {
	f := &queryFlags{}
	cmd := &cobra.Command{
		Use:   "query",
		Short: "Load a JSON array of documents and run one find against it",
		Example: `  bunstore query --file users.json --filter '{"age":{"$gte":18}}' \
      --sort -age,name --skip 10 --limit 5 --projection '{"name":1}'`,
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()
			return runQuery(cmd.Context(), db, f, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&f.file, "file", "f", "-", "JSON array of documents, - for stdin")
	cmd.Flags().StringVarP(&f.collection, "collection", "c", "docs", "collection name")
	cmd.Flags().StringVar(&f.filter, "filter", "{}", "query filter as JSON")
	cmd.Flags().StringVar(&f.sort, "sort", "", "sort fields, e.g. -age,name")
	cmd.Flags().IntVar(&f.skip, "skip", 0, "results to skip")
	cmd.Flags().IntVar(&f.limit, "limit", 0, "maximum results, 0 for all")
	cmd.Flags().StringVar(&f.projection, "projection", "", "projection as JSON, e.g. {\"name\":1}")
	cmd.Flags().StringSliceVar(&f.indexes, "index", nil, "fields to index before querying")
	return cmd
}

func runQuery(ctx context.Context, db *bunstore.Database, f *queryFlags, out io.Writer) error {
	if ctx == nil {
		ctx = context.Background()
	}

	docs, err := readDocuments(f.file)
	if err != nil {
		return err
	}

	coll, err := db.Collection(f.collection)
	if err != nil {
		return err
	}
	for _, field := range f.indexes {
		if err := coll.EnsureIndex(ctx, storage.IndexOptions{FieldName: field}); err != nil {
			return fmt.Errorf("failed to index %s: %w", field, err)
		}
	}
	if len(docs) > 0 {
		if _, err := coll.Insert(ctx, docs...); err != nil {
			return fmt.Errorf("failed to load documents: %w", err)
		}
	}

	var filter map[string]interface{}
	if err := json.Unmarshal([]byte(f.filter), &filter); err != nil {
		return fmt.Errorf("invalid filter: %w", err)
	}

	cur := coll.Find(filter).Skip(f.skip).Limit(f.limit)
	if f.sort != "" {
		spec, err := bunstore.ParseSort(f.sort)
		if err != nil {
			return err
		}
		cur.Sort(spec)
	}
	if f.projection != "" {
		var p bunstore.Projection
		if err := json.Unmarshal([]byte(f.projection), &p); err != nil {
			return fmt.Errorf("invalid projection: %w", err)
		}
		cur.Projection(p)
	}

	results, err := cur.Exec(ctx)
	if err != nil {
		return err
	}
	return writeJSON(out, results)
}

func readDocuments(path string) ([]storage.Document, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(os.Stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read documents: %w", err)
	}

	var docs []storage.Document
	if err := json.Unmarshal(data, &docs); err != nil {
		return nil, fmt.Errorf("documents must be a JSON array of objects: %w", err)
	}
	return docs, nil
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
