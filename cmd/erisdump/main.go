package main

import (
	"flag"
	"io"
	"log"
	"os"

	"github.com/davecgh/go-spew/spew"

	"github.com/fnuecke/eris"
)

func process(fname string, b []byte) {
	d := eris.Decoder{GeneratePath: true}

	v, err := d.Unpersist(nil, b)
	if err != nil {
		log.Fatalf("error processing %s: %s", fname, err)
	}

	spew.Dump(v)
}

func main() {
	flag.Parse()

	if flag.NArg() == 0 {
		b, _ := io.ReadAll(os.Stdin)
		process("stdin", b)
		return
	}

	for _, arg := range flag.Args() {
		b, err := os.ReadFile(arg)
		if err != nil {
			log.Fatalf("error reading %s: %s", arg, err)
		}
		process(arg, b)
	}
}
