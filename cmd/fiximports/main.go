// Command fiximports moves transactions out of a GnuCash placeholder account
// according to a user-authored rules file.
//
//	fiximports [flags] <account-to-fix> <rules-file> <book.gnucash>
//
// Without -change the run is a dry run: counters are reported and the book
// file is left untouched.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"regexp"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"

	"fiximports/internal/book"
	"fiximports/internal/config"
	"fiximports/internal/fix"
	"fiximports/internal/rules"
)

const version = "0.5.0"

var (
	imbalanceAc string
	offsetAc    string
	backupDir   string
	useMemo     bool
	change      bool
	verbose     bool
	quiet       bool
	ignoreLock  bool
	showVersion bool
)

func usage() {
	fmt.Fprintf(flag.CommandLine.Output(),
		"Usage: %s [flags] <account-to-fix> <rules-file> <book.gnucash>\n\nFlags:\n", os.Args[0])
	flag.PrintDefaults()
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	// Flag defaults come from the config layer, so an explicitly passed flag
	// wins over config file and environment.
	for _, name := range []string{"imbalance-ac", "i"} {
		flag.StringVar(&imbalanceAc, name, cfg.ImbalanceAc, "imbalance account name pattern legal fix accounts must match")
	}
	for _, name := range []string{"offset-ac", "o"} {
		flag.StringVar(&offsetAc, name, cfg.OffsetAc, "modify a split only if the offset account matches this pattern")
	}
	for _, name := range []string{"use-memo", "m"} {
		flag.BoolVar(&useMemo, name, cfg.UseMemo, "match rules against the split memo instead of the description")
	}
	for _, name := range []string{"change", "c"} {
		flag.BoolVar(&change, name, false, "save changes to the book; without it the run is a dry run")
	}
	for _, name := range []string{"verbose", "v"} {
		flag.BoolVar(&verbose, name, false, "verbose (debug) logging")
	}
	for _, name := range []string{"quiet", "q"} {
		flag.BoolVar(&quiet, name, false, "suppress normal output, errors only")
	}
	for _, name := range []string{"version", "V"} {
		flag.BoolVar(&showVersion, name, false, "print version and exit")
	}
	flag.StringVar(&backupDir, "backup-dir", cfg.BackupDir, "directory for book backups, default next to the book")
	flag.BoolVar(&ignoreLock, "ignore-lock", cfg.IgnoreLock, "open the book even when another session holds its lock")
	flag.Usage = usage
	flag.Parse()

	if showVersion {
		fmt.Println(version)
		return
	}
	if flag.NArg() != 3 {
		usage()
		os.Exit(2)
	}
	acToFix, rulesFile, bookFile := flag.Arg(0), flag.Arg(1), flag.Arg(2)

	log := newLogger(cfg.LogLevel)
	ctx := context.Background()
	runAt := time.Now()

	imbalancePattern, err := regexp.Compile(imbalanceAc)
	if err != nil {
		log.Fatalf("bad imbalance account pattern %q: %v", imbalanceAc, err)
	}
	offsetPattern, err := regexp.Compile(offsetAc)
	if err != nil {
		log.Fatalf("bad offset account pattern %q: %v", offsetAc, err)
	}

	ruleSet, err := rules.Load(rulesFile, log)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Debugf("compiled %d rules from %s", ruleSet.Len(), rulesFile)

	b, err := book.Open(ctx, bookFile, book.Options{IgnoreLock: ignoreLock}, log)
	if err != nil {
		var locked *book.LockError
		if errors.As(err, &locked) {
			log.Fatalf("%v; close the other session or pass -ignore-lock", locked)
		}
		log.Fatalf("%v", err)
	}
	defer b.Close()

	fixAcc, err := b.FindAccount(acToFix)
	if err != nil {
		log.Fatalf("account to fix: %v", err)
	}
	if !fix.MatchesStart(imbalancePattern, fixAcc.Name) {
		log.Fatalf("account to fix %q does not match the imbalance pattern %q; try adapting -imbalance-ac",
			fixAcc.Name, imbalanceAc)
	}

	splits, err := b.Splits(ctx, fixAcc)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("account to fix: %q, number of splits: %d", fixAcc.FullName(), len(splits))

	fixer := &fix.Fixer{Book: b, Rules: ruleSet, Log: log}
	sum, err := fixer.Run(ctx, fixAcc, fix.Options{UseMemo: useMemo, OffsetPattern: offsetPattern})
	if err != nil {
		log.Fatalf("%v", err)
	}

	if !quiet {
		printSummary := color.New(color.FgGreen).PrintfFunc()
		printSummary("Total: %d, FixOpts: %d, Fixed: %d\n", sum.Total, sum.Eligible, sum.Fixed)
	}

	staged := b.Flush()
	if !change {
		if staged > 0 && !quiet {
			notice := color.New(color.FgYellow).PrintfFunc()
			notice("Fix changes ignored. Use -change to save them to the book.\n")
		}
		return
	}

	bck, err := b.Backup(backupDir, runAt)
	if err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("book backed up to %s", bck)
	if err := b.Save(ctx); err != nil {
		log.Fatalf("%v", err)
	}
	log.Infof("saved %d reassignments to %s", staged, bookFile)
}

func newLogger(level string) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(os.Stderr)
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	switch {
	case verbose:
		log.SetLevel(logrus.DebugLevel)
	case quiet:
		log.SetLevel(logrus.WarnLevel)
	default:
		lvl, err := logrus.ParseLevel(level)
		if err != nil {
			lvl = logrus.InfoLevel
		}
		log.SetLevel(lvl)
	}
	return log
}
