// Command docstore inspects and edits a document store.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/andreyvit/docstore"
	"github.com/andreyvit/docstore/journal"
	"github.com/andreyvit/docstore/revtree"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const usage = `usage: docstore [flags] <command> [args]

commands:
  info
  get <docID>
  put <docID> <json> [parentRev]
  delete <docID> <rev>
  all-docs [-deleted]
  changes [-since N]
  expire <docID> <duration|never>
  purge-expired
  compact
  dump
  journal [-n N]

flags:
`

func main() {
	var (
		configPath string
		dbPath     string
		backend    string
		journalDir string
		verbose    bool
	)
	flag.StringVar(&configPath, "config", "", "YAML config file")
	flag.StringVar(&dbPath, "db", "", "database path (overrides config)")
	flag.StringVar(&backend, "backend", "", "storage backend: bolt, badger or memory (overrides config)")
	flag.StringVar(&journalDir, "journal", "", "change journal directory (overrides config)")
	flag.BoolVar(&verbose, "v", false, "log every operation")
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	cfg, err := loadConfig(configPath)
	if err != nil {
		fatalf("config: %v", err)
	}
	if dbPath != "" {
		cfg.Path = dbPath
	}
	if backend != "" {
		cfg.Backend = backend
	}
	if journalDir != "" {
		cfg.JournalDir = journalDir
	}
	cfg.Verbose = cfg.Verbose || verbose

	if flag.NArg() == 0 {
		flag.Usage()
		os.Exit(2)
	}

	logger := newLogger(cfg.Verbose)
	defer logger.Sync()

	db, err := docstore.Open(cfg.Path, docstore.Options{
		Backend:         docstore.Backend(cfg.Backend),
		Logger:          logger,
		Verbose:         cfg.Verbose,
		MaxRevTreeDepth: cfg.MaxRevTreeDepth,
		JournalDir:      cfg.JournalDir,
	})
	if err != nil {
		fatalf("open %s: %v", cfg.Path, err)
	}
	err = run(os.Stdout, db, flag.Arg(0), flag.Args()[1:])
	if cerr := db.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		fatalf("%s: %v", flag.Arg(0), err)
	}
}

func newLogger(verbose bool) *zap.Logger {
	zc := zap.NewDevelopmentConfig()
	if !verbose {
		zc.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	}
	zc.DisableStacktrace = true
	return zap.Must(zc.Build())
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "docstore: "+format+"\n", args...)
	os.Exit(1)
}

func run(w io.Writer, db *docstore.DB, cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	switch cmd {
	case "info":
		return info(w, db)

	case "get":
		if len(args) != 1 {
			return errUsage
		}
		doc, err := db.Get(args[0], true)
		if err != nil {
			return err
		}
		return printDoc(w, doc)

	case "put":
		if len(args) < 2 || len(args) > 3 {
			return errUsage
		}
		rq := &docstore.PutRequest{DocID: args[0], Body: []byte(args[1]), Save: true}
		if len(args) == 3 {
			rq.History = []revtree.RevID{revtree.RevID(args[2])}
		}
		doc, _, err := db.Put(rq)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s seq=%d\n", doc.ID(), doc.RevID(), doc.Sequence())
		return nil

	case "delete":
		if len(args) != 2 {
			return errUsage
		}
		doc, _, err := db.Put(&docstore.PutRequest{
			DocID:    args[0],
			Deletion: true,
			History:  []revtree.RevID{revtree.RevID(args[1])},
			Save:     true,
		})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "%s %s seq=%d deleted\n", doc.ID(), doc.RevID(), doc.Sequence())
		return nil

	case "all-docs":
		deleted := fs.Bool("deleted", false, "include deleted documents")
		if err := fs.Parse(args); err != nil {
			return err
		}
		e, err := db.EnumerateAllDocs("", "", &docstore.EnumeratorOptions{IncludeDeleted: *deleted})
		if err != nil {
			return err
		}
		return printInfos(w, e)

	case "changes":
		since := fs.Uint64("since", 0, "list changes after this sequence")
		if err := fs.Parse(args); err != nil {
			return err
		}
		e, err := db.EnumerateChanges(docstore.Sequence(*since), &docstore.EnumeratorOptions{IncludeDeleted: true})
		if err != nil {
			return err
		}
		return printInfos(w, e)

	case "expire":
		if len(args) != 2 {
			return errUsage
		}
		var t time.Time
		if args[1] != "never" {
			d, err := time.ParseDuration(args[1])
			if err != nil {
				return err
			}
			t = time.Now().Add(d)
		}
		return db.SetExpiration(args[0], t)

	case "purge-expired":
		n, err := db.PurgeExpiredDocs(time.Time{})
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "purged %d documents\n", n)
		return nil

	case "compact":
		res, err := db.Compact()
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "dropped %d bodies, %d index entries\n", res.DroppedBodies, res.DroppedIndexItems)
		return nil

	case "dump":
		s, err := db.Dump(docstore.DumpAll)
		if err != nil {
			return err
		}
		fmt.Fprint(w, s)
		return nil

	case "journal":
		limit := fs.Int("n", 0, "stop after this many transactions (0 = all)")
		if err := fs.Parse(args); err != nil {
			return err
		}
		var n int
		return db.ReadJournal(func(ts time.Time, changes []docstore.Change) error {
			fmt.Fprintf(w, "%s\n", ts.Format(time.RFC3339))
			for _, chg := range changes {
				fmt.Fprintf(w, "  %s\n", chg)
			}
			n++
			if *limit > 0 && n >= *limit {
				return journal.ErrStop
			}
			return nil
		})

	default:
		return fmt.Errorf("unknown command %q", cmd)
	}
}

var errUsage = errors.New("wrong number of arguments, see -help")

func info(w io.Writer, db *docstore.DB) error {
	st, err := db.Stats()
	if err != nil {
		return err
	}
	next, err := db.NextDocExpiration()
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "documents:       %d live, %d deleted\n", st.Live.Records, st.Dead.Records)
	fmt.Fprintf(w, "last sequence:   %d\n", st.LastSequence)
	fmt.Fprintf(w, "archived bodies: %d\n", st.ArchivedBodies)
	fmt.Fprintf(w, "next expiration: %v\n", next)
	return nil
}

func printDoc(w io.Writer, doc *docstore.Document) error {
	fmt.Fprintf(w, "%s seq=%d flags=%s\n", doc.ID(), doc.Sequence(), doc.Flags())
	if exp, err := doc.Expiration(); err != nil {
		return err
	} else if exp != docstore.NoExpiration {
		fmt.Fprintf(w, "expires %v\n", exp)
	}
	doc.SelectCurrent()
	for {
		if _, err := doc.LoadRevisionBody(); err != nil {
			return err
		}
		rev := doc.SelectedRev()
		var marks []string
		if rev.IsLeaf() {
			marks = append(marks, "leaf")
		}
		if rev.IsDeleted() {
			marks = append(marks, "deleted")
		}
		body := "(no body)"
		if rev.Body != nil {
			body = string(rev.Body)
		}
		fmt.Fprintf(w, "  %-48s %-14s %s\n", rev.ID, strings.Join(marks, ","), body)
		if !doc.SelectNext() {
			return nil
		}
	}
}

func printInfos(w io.Writer, e *docstore.DocEnumerator) error {
	defer e.Close()
	for e.Next() {
		info := e.Info()
		fmt.Fprintf(w, "%-8s %-36s %s %s\n", strconv.FormatUint(uint64(info.Sequence), 10), info.DocID, info.RevID, info.Flags)
	}
	return e.Err()
}
