package main

import (
	"bytes"
	crand "crypto/rand"
	"encoding/hex"
	"fmt"
	mrand "math/rand"
	"os"

	"github.com/dgryski/go-ddmin"

	"github.com/fnuecke/eris"
	"github.com/fnuecke/eris/vm"
)

// header yields a valid stream prologue so random bodies get past the
// container checks and exercise the object-graph reader.
func header() []byte {
	var buf bytes.Buffer
	if err := eris.Dump(nil, nil, &buf); err != nil {
		panic(err)
	}
	b := buf.Bytes()
	return b[:len(b)-4] // drop the framing word of the nil payload
}

// decodes reports whether the decoder survives b without panicking.
func decodes(b []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	var m vm.Value
	m, _ = eris.Unpersist(nil, b)
	_ = m
	return true
}

func main() {
	prefix := header()

	for {
		l := mrand.Intn(200)
		body := make([]byte, l)
		crand.Read(body)

		doc := append(append([]byte(nil), prefix...), body...)
		if decodes(doc) {
			continue
		}

		min := ddmin.Minimize(doc, func(d []byte) ddmin.Result {
			if decodes(d) {
				return ddmin.Pass
			}
			return ddmin.Fail
		})

		fmt.Println("decoder panic, minimized input:")
		fmt.Println(hex.Dump(min))
		os.Exit(1)
	}
}
