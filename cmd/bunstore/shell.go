package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"github.com/kartikbazzad/bunbase/bunstore"
	"github.com/kartikbazzad/bunbase/bunstore/storage"
)

const prompt = "> "

var errExit = errors.New("exit")

const helpText = `Commands:
  .use NAME                        switch collection (created on first use)
  .collections                     list collections
  .insert DOC|[DOC,...]            insert documents
  .find [sort=S] [skip=N] [limit=N] [FILTER [PROJECTION]]
  .count [FILTER]                  count matching documents
  .update [multi] [upsert] FILTER UPDATE
  .remove [multi] FILTER
  .index FIELD [unique] [sparse]   create an index
  .dropindex FIELD                 remove an index
  .indexes                         list indexes
  .check                           verify index invariants
  .help                            show this text
  .exit                            leave the shell`

// Shell runs dot commands against one database.
type Shell struct {
	db   *bunstore.Database
	coll *bunstore.Collection
	out  io.Writer
}

// NewShell creates a shell using the "docs" collection.
func NewShell(db *bunstore.Database, out io.Writer) (*Shell, error) {
	coll, err := db.Collection("docs")
	if err != nil {
		return nil, err
	}
	return &Shell{db: db, coll: coll, out: out}, nil
}

// Execute runs one command line. It returns errExit for .exit.
func (s *Shell) Execute(ctx context.Context, line string) error {
	line = strings.TrimSpace(line)
	if line == "" {
		return nil
	}
	name, rest, _ := strings.Cut(line, " ")
	rest = strings.TrimSpace(rest)
	if !strings.HasPrefix(name, ".") {
		return fmt.Errorf("commands must start with '.'")
	}

	switch name {
	case ".help":
		fmt.Fprintln(s.out, helpText)
		return nil
	case ".exit", ".quit":
		return errExit
	case ".use":
		return s.use(rest)
	case ".collections":
		for _, n := range s.db.ListCollections() {
			fmt.Fprintln(s.out, n)
		}
		return nil
	case ".insert":
		return s.insert(ctx, rest)
	case ".find":
		return s.find(ctx, rest)
	case ".count":
		return s.count(ctx, rest)
	case ".update":
		return s.update(ctx, rest)
	case ".remove":
		return s.remove(ctx, rest)
	case ".index":
		return s.index(ctx, rest)
	case ".dropindex":
		if rest == "" {
			return fmt.Errorf("expected a field name")
		}
		return s.coll.RemoveIndex(ctx, rest)
	case ".indexes":
		return writeJSON(s.out, s.coll.Indexes())
	case ".check":
		if err := s.coll.CheckIndexes(ctx); err != nil {
			return err
		}
		fmt.Fprintln(s.out, "OK")
		return nil
	default:
		return fmt.Errorf("unknown command: %s", name)
	}
}

func (s *Shell) use(name string) error {
	if name == "" {
		return fmt.Errorf("expected a collection name")
	}
	coll, err := s.db.Collection(name)
	if err != nil {
		return err
	}
	s.coll = coll
	return nil
}

func (s *Shell) insert(ctx context.Context, rest string) error {
	values, err := decodeValues(rest)
	if err != nil {
		return err
	}
	if len(values) != 1 {
		return fmt.Errorf("expected one document or array")
	}

	var docs []storage.Document
	switch v := values[0].(type) {
	case map[string]interface{}:
		docs = append(docs, v)
	case []interface{}:
		for _, e := range v {
			m, ok := e.(map[string]interface{})
			if !ok {
				return fmt.Errorf("array elements must be objects")
			}
			docs = append(docs, m)
		}
	default:
		return fmt.Errorf("expected one document or array")
	}

	inserted, err := s.coll.Insert(ctx, docs...)
	if err != nil {
		return err
	}
	return writeJSON(s.out, inserted)
}

func (s *Shell) find(ctx context.Context, rest string) error {
	opts, rest := splitOptions(rest)
	values, err := decodeValues(rest)
	if err != nil {
		return err
	}
	if len(values) > 2 {
		return fmt.Errorf("expected at most a filter and a projection")
	}
	filter, err := objectAt(values, 0)
	if err != nil {
		return err
	}

	cur := s.coll.Find(filter)
	if v, ok := opts["sort"]; ok {
		spec, err := bunstore.ParseSort(v)
		if err != nil {
			return err
		}
		cur.Sort(spec)
	}
	for _, key := range []string{"skip", "limit"} {
		v, ok := opts[key]
		if !ok {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if key == "skip" {
			cur.Skip(n)
		} else {
			cur.Limit(n)
		}
	}
	if len(values) == 2 {
		p, err := toProjection(values[1])
		if err != nil {
			return err
		}
		cur.Projection(p)
	}

	docs, err := cur.Exec(ctx)
	if err != nil {
		return err
	}
	return writeJSON(s.out, docs)
}

func (s *Shell) count(ctx context.Context, rest string) error {
	values, err := decodeValues(rest)
	if err != nil {
		return err
	}
	filter, err := objectAt(values, 0)
	if err != nil {
		return err
	}
	n, err := s.coll.Count(ctx, filter)
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, n)
	return nil
}

func (s *Shell) update(ctx context.Context, rest string) error {
	flags, rest := splitFlags(rest, "multi", "upsert")
	values, err := decodeValues(rest)
	if err != nil {
		return err
	}
	if len(values) != 2 {
		return fmt.Errorf("expected a filter and an update")
	}
	filter, err := objectAt(values, 0)
	if err != nil {
		return err
	}
	upd, err := objectAt(values, 1)
	if err != nil {
		return err
	}

	res, err := s.coll.Update(ctx, filter, upd, bunstore.UpdateOptions{
		Multi:             flags["multi"],
		Upsert:            flags["upsert"],
		ReturnUpdatedDocs: true,
	})
	if err != nil {
		return err
	}
	return writeJSON(s.out, res)
}

func (s *Shell) remove(ctx context.Context, rest string) error {
	flags, rest := splitFlags(rest, "multi")
	values, err := decodeValues(rest)
	if err != nil {
		return err
	}
	filter, err := objectAt(values, 0)
	if err != nil {
		return err
	}
	n, err := s.coll.Remove(ctx, filter, bunstore.RemoveOptions{Multi: flags["multi"]})
	if err != nil {
		return err
	}
	fmt.Fprintln(s.out, n)
	return nil
}

func (s *Shell) index(ctx context.Context, rest string) error {
	fields := strings.Fields(rest)
	if len(fields) == 0 {
		return fmt.Errorf("expected a field name")
	}
	opts := storage.IndexOptions{FieldName: fields[0]}
	for _, f := range fields[1:] {
		switch f {
		case "unique":
			opts.Unique = true
		case "sparse":
			opts.Sparse = true
		default:
			return fmt.Errorf("unknown index option: %s", f)
		}
	}
	return s.coll.EnsureIndex(ctx, opts)
}

// splitOptions peels leading key=value tokens off rest.
func splitOptions(rest string) (map[string]string, string) {
	opts := map[string]string{}
	for {
		tok, tail, _ := strings.Cut(rest, " ")
		k, v, ok := strings.Cut(tok, "=")
		if !ok || k == "" || strings.ContainsAny(k, "{[\"") {
			return opts, rest
		}
		opts[k] = v
		rest = strings.TrimSpace(tail)
	}
}

// splitFlags peels leading bare words listed in names off rest.
func splitFlags(rest string, names ...string) (map[string]bool, string) {
	flags := map[string]bool{}
	for {
		tok, tail, _ := strings.Cut(rest, " ")
		known := false
		for _, n := range names {
			if tok == n {
				known = true
				break
			}
		}
		if !known {
			return flags, rest
		}
		flags[tok] = true
		rest = strings.TrimSpace(tail)
	}
}

// decodeValues reads consecutive JSON values from s.
func decodeValues(s string) ([]interface{}, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var out []interface{}
	for {
		var v interface{}
		err := dec.Decode(&v)
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, fmt.Errorf("invalid JSON: %w", err)
		}
		out = append(out, v)
	}
}

func objectAt(values []interface{}, i int) (map[string]interface{}, error) {
	if i >= len(values) {
		return map[string]interface{}{}, nil
	}
	m, ok := values[i].(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("argument %d must be a JSON object", i+1)
	}
	return m, nil
}

func toProjection(v interface{}) (bunstore.Projection, error) {
	m, ok := v.(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("projection must be a JSON object")
	}
	p := bunstore.Projection{}
	for k, raw := range m {
		f, ok := raw.(float64)
		if !ok {
			return nil, fmt.Errorf("projection value for %s must be 0 or 1", k)
		}
		p[k] = int(f)
	}
	return p, nil
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ""
	}
	return filepath.Join(home, ".bunstore_history")
}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "Interactive shell over an in-memory database",
		RunE: func(cmd *cobra.Command, args []string) error {
			db, err := openDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			sh, err := NewShell(db, cmd.OutOrStdout())
			if err != nil {
				return err
			}
			return runShell(cmd.Context(), sh)
		},
	}
}

func runShell(ctx context.Context, sh *Shell) error {
	if ctx == nil {
		ctx = context.Background()
	}

	line := liner.NewLiner()
	defer line.Close()
	line.SetCtrlCAborts(true)

	hist := historyPath()
	if hist != "" {
		if f, err := os.Open(hist); err == nil {
			_, _ = line.ReadHistory(f)
			f.Close()
		}
	}

	fmt.Fprintln(sh.out, "bunstore shell. Type '.help' for commands.")
	for {
		input, err := line.Prompt(prompt)
		if errors.Is(err, liner.ErrPromptAborted) || errors.Is(err, io.EOF) {
			fmt.Fprintln(sh.out)
			break
		}
		if err != nil {
			return err
		}
		if strings.TrimSpace(input) == "" {
			continue
		}
		line.AppendHistory(input)

		err = sh.Execute(ctx, input)
		if errors.Is(err, errExit) {
			break
		}
		if err != nil {
			fmt.Fprintln(sh.out, "ERROR")
			fmt.Fprintln(sh.out, err.Error())
		}
	}

	if hist != "" {
		if f, err := os.Create(hist); err == nil {
			_, _ = line.WriteHistory(f)
			f.Close()
		}
	}
	return nil
}
