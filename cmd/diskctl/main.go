// Command diskctl is a thin CLI over the diskctl facade: identify, read,
// write, flush, tpm-store, tpm-retrieve. Flag parsing follows the teacher
// pack's cmd/smartctl and cmd/drivedb style (stdlib flag, one FlagSet per
// subcommand) rather than introducing a third-party CLI framework neither
// the teacher nor the rest of the pack reaches for.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"

	"storagecore/config"
	"storagecore/diskctl"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: diskctl [-config path] <identify|read|write|flush|tpm-store|tpm-retrieve> [args]")
	os.Exit(2)
}

func main() {
	configPath := flag.String("config", "", "path to YAML config file (defaults built in if omitted)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 1 {
		usage()
	}

	cfg := config.Default()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "diskctl:", err)
			os.Exit(1)
		}
	}

	ctl, err := diskctl.Init(cfg)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: init:", err)
		os.Exit(1)
	}
	defer ctl.Close()

	switch args[0] {
	case "identify":
		runIdentify(ctl)
	case "read":
		runRead(ctl, args[1:])
	case "write":
		runWrite(ctl, args[1:])
	case "flush":
		runFlush(ctl)
	case "tpm-store":
		runTPMStore(ctl, args[1:])
	case "tpm-retrieve":
		runTPMRetrieve(ctl, args[1:])
	default:
		usage()
	}
}

func runIdentify(ctl *diskctl.Controller) {
	info, err := ctl.Identify()
	if err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: identify:", err)
		os.Exit(1)
	}
	fmt.Printf("model=%q serial=%q lba28max=%d lba48=%v lba48max=%d sataGen=%d\n",
		info.Model, info.Serial, info.LBA28MaxLBA, info.LBA48Supported, info.LBA48MaxLBA, info.SATAGen)
}

func runRead(ctl *diskctl.Controller, args []string) {
	fs := flag.NewFlagSet("read", flag.ExitOnError)
	lba := fs.Uint64("lba", 0, "starting LBA")
	count := fs.Uint("count", 1, "sector count")
	fs.Parse(args)

	buf := make([]byte, int(*count)*512)
	if err := ctl.Read(*lba, uint16(*count), buf); err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: read:", err)
		os.Exit(1)
	}
	fmt.Println(hex.EncodeToString(buf))
}

func runWrite(ctl *diskctl.Controller, args []string) {
	fs := flag.NewFlagSet("write", flag.ExitOnError)
	lba := fs.Uint64("lba", 0, "starting LBA")
	data := fs.String("hex", "", "hex-encoded sector data")
	fs.Parse(args)

	buf, err := hex.DecodeString(*data)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: write: invalid -hex:", err)
		os.Exit(1)
	}
	count := (len(buf) + 511) / 512
	padded := make([]byte, count*512)
	copy(padded, buf)

	if err := ctl.Write(*lba, uint16(count), padded); err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: write:", err)
		os.Exit(1)
	}
}

func runFlush(ctl *diskctl.Controller) {
	if err := ctl.Flush(); err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: flush:", err)
		os.Exit(1)
	}
}

func runTPMStore(ctl *diskctl.Controller, args []string) {
	fs := flag.NewFlagSet("tpm-store", flag.ExitOnError)
	label := fs.String("label", "", "entry label")
	value := fs.String("value", "", "entry value")
	fs.Parse(args)

	if *label == "" {
		fmt.Fprintln(os.Stderr, "diskctl: tpm-store: -label is required")
		os.Exit(2)
	}
	if err := ctl.TPMStore(*label, []byte(*value)); err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: tpm-store:", err)
		os.Exit(1)
	}
}

func runTPMRetrieve(ctl *diskctl.Controller, args []string) {
	fs := flag.NewFlagSet("tpm-retrieve", flag.ExitOnError)
	label := fs.String("label", "", "entry label")
	fs.Parse(args)

	if *label == "" {
		fmt.Fprintln(os.Stderr, "diskctl: tpm-retrieve: -label is required")
		os.Exit(2)
	}
	value, err := ctl.TPMRetrieve(*label)
	if err != nil {
		fmt.Fprintln(os.Stderr, "diskctl: tpm-retrieve:", err)
		os.Exit(1)
	}
	fmt.Println(string(value))
}
