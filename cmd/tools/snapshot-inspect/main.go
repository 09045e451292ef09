// Command snapshot-inspect prints the contents of an engine state, either a
// .expr state file or a snapshot stored in the expressiond database.
package main

import (
	"flag"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/banshee-data/expression.report/internal/db"
	"github.com/banshee-data/expression.report/internal/expression/classifier"
	"github.com/banshee-data/expression.report/internal/expression/codec"
	"github.com/banshee-data/expression.report/internal/expression/features"
)

func main() {
	file := flag.String("file", "", "State file to inspect")
	dbPath := flag.String("db", "", "expressiond database to read snapshots from")
	id := flag.String("id", "latest", "Snapshot ID to inspect (with -db)")
	list := flag.Bool("list", false, "List snapshots in -db instead of inspecting one")
	flag.Parse()

	if (*file == "") == (*dbPath == "") {
		log.Fatal("exactly one of -file or -db is required")
	}

	if *file != "" {
		data, err := os.ReadFile(*file)
		if err != nil {
			log.Fatalf("read %s: %v", *file, err)
		}
		if err := inspect(os.Stdout, data); err != nil {
			log.Fatal(err)
		}
		return
	}

	database, err := db.NewDB(*dbPath)
	if err != nil {
		log.Fatalf("open database: %v", err)
	}
	defer database.Close()

	if *list {
		snaps, err := database.ListSnapshots(100)
		if err != nil {
			log.Fatal(err)
		}
		listSnapshots(os.Stdout, snaps)
		return
	}

	var snap *db.Snapshot
	if *id == "latest" {
		snap, err = database.LatestSnapshot()
	} else {
		snap, err = database.GetSnapshot(*id)
	}
	if err != nil {
		log.Fatalf("snapshot %s: %v", *id, err)
	}
	fmt.Printf("snapshot %s taken %s (%s)\n", snap.ID, snap.TakenAt.Format("2006-01-02 15:04:05"), snap.Reason)
	if err := inspect(os.Stdout, snap.Blob); err != nil {
		log.Fatal(err)
	}
}

func inspect(w io.Writer, data []byte) error {
	snap, err := codec.Decode(data)
	if err != nil {
		return err
	}

	model := classifier.NewSoftmax(classifier.Options{})
	modelErr := model.UnmarshalBinary(snap.Model)

	fmt.Fprintf(w, "state: %d bytes, %d labels, %d selected cols\n", len(data), len(snap.Samples), len(snap.SelectedIndices))
	switch {
	case modelErr != nil:
		fmt.Fprintf(w, "model: unreadable (%v)\n", modelErr)
	case model.Ready():
		fmt.Fprintf(w, "model: ready, %d classes over %d cols, %d bytes\n", model.Classes(), model.Cols(), len(snap.Model))
	default:
		fmt.Fprintln(w, "model: not trained")
	}
	if len(snap.Labels) > 0 {
		fmt.Fprintf(w, "class labels: %v\n", snap.Labels)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "LABEL\tSAMPLES")
	for _, ls := range snap.Samples {
		fmt.Fprintf(tw, "%s\t%d\n", ls.Label, len(ls.Samples))
	}
	tw.Flush()

	fmt.Fprint(w, "groups:")
	for _, g := range features.Groups() {
		if snap.Selection.Enabled(g) {
			fmt.Fprintf(w, " %s", g)
		}
	}
	fmt.Fprintln(w)
	return nil
}

func listSnapshots(w io.Writer, snaps []db.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTAKEN\tREASON\tSAMPLES\tCOLS\tREADY\tLABELS")
	for _, s := range snaps {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%t\t%v\n",
			s.ID, s.TakenAt.Format("2006-01-02 15:04:05"), s.Reason, s.SampleCount, s.Cols, s.ModelReady, s.Labels)
	}
	tw.Flush()
}
