// Command sweepdash renders collected experiment data as HTML pages.
package main

import (
	"flag"
	"log"

	"github.com/phaselab/thermosweep/dashboard"
	"github.com/phaselab/thermosweep/datalog"
)

func main() {
	root := flag.String("root", "experiments", "directory holding experiment_* directories")
	out := flag.String("out", "dashboards", "directory to write HTML into")
	one := flag.String("experiment", "", "render a single experiment directory instead of every one under -root")
	flag.Parse()

	var (
		all []*datalog.ExperimentData
		err error
	)
	if *one != "" {
		data, err := datalog.Load(*one)
		if err != nil {
			log.Fatalf("could not load %s: %v", *one, err)
		}
		all = []*datalog.ExperimentData{data}
	} else {
		all, err = datalog.LoadAll(*root)
		if err != nil {
			log.Fatalf("could not scan %s: %v", *root, err)
		}
	}
	if len(all) == 0 {
		log.Fatalf("no experiments found under %s", *root)
	}
	if err := dashboard.WriteAll(all, *out); err != nil {
		log.Fatal(err)
	}
	log.Printf("wrote %d dashboard pages and the index to %s", len(all), *out)
}
