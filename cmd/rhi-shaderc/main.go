// Command rhi-shaderc compiles WGSL files into a shader bundle.
//
// Every @vertex, @fragment and @compute entry point of a file becomes one
// bundle entry per target API, named after the file and the stage:
//
//	rhi-shaderc -o resources/editor.rhsb shaders/overlay.wgsl
//
// produces overlay.vs and overlay.fs for Vulkan (SPIR-V) and Metal.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/gogpu/rhi"
	"github.com/gogpu/rhi/internal/parallel"
	"github.com/gogpu/rhi/shaders"
)

var entryRE = regexp.MustCompile(`@(vertex|fragment|compute)\s+fn\s+([A-Za-z_][A-Za-z0-9_]*)`)

var stageSuffix = map[string]struct {
	stage  rhi.ShaderStage
	suffix string
}{
	"vertex":   {rhi.StageVertex, "vs"},
	"fragment": {rhi.StageFragment, "fs"},
	"compute":  {rhi.StageCompute, "cs"},
}

type job struct {
	api   rhi.API
	name  string
	stage rhi.ShaderStage
	entry string
	src   string
	file  string
}

func main() {
	var (
		output = flag.String("o", "shaders.rhsb", "output bundle")
		apis   = flag.String("api", "vulkan,metal", "comma-separated target APIs")
		jobsN  = flag.Int("j", 0, "parallel compile jobs; 0 uses GOMAXPROCS")
	)
	flag.Parse()
	if flag.NArg() == 0 {
		fmt.Fprintln(os.Stderr, "usage: rhi-shaderc [-o bundle] [-api list] file.wgsl...")
		os.Exit(2)
	}

	var targets []rhi.API
	for _, name := range strings.Split(*apis, ",") {
		api, err := rhi.ParseAPI(strings.TrimSpace(name))
		if err != nil || api == rhi.APIUndefined {
			log.Fatalf("invalid API %q", name)
		}
		targets = append(targets, api)
	}

	var jobs []job
	for _, path := range flag.Args() {
		src, err := os.ReadFile(path)
		if err != nil {
			log.Fatal(err)
		}
		base := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		matches := entryRE.FindAllStringSubmatch(string(src), -1)
		if len(matches) == 0 {
			log.Fatalf("%s: no entry points", path)
		}
		for _, m := range matches {
			s := stageSuffix[m[1]]
			for _, api := range targets {
				jobs = append(jobs, job{
					api: api, name: base + "." + s.suffix, stage: s.stage,
					entry: m[2], src: string(src), file: path,
				})
			}
		}
	}

	b := shaders.NewBuilder()
	pool := parallel.NewPool(*jobsN)
	work := make([]func() error, len(jobs))
	for i, j := range jobs {
		work[i] = func() error {
			desc, err := shaders.Compile(j.api, j.name, j.stage, j.entry, j.src)
			if err == nil {
				err = b.Add(j.api, desc)
			}
			if err != nil {
				return fmt.Errorf("%s (%s): %w", j.file, j.api, err)
			}
			return nil
		}
	}
	err := pool.Run(work)
	pool.Close()
	if err != nil {
		log.Fatal(err)
	}

	if err := shaders.WriteFile(*output, b); err != nil {
		log.Fatalf("write %s: %v", *output, err)
	}
	log.Printf("%d entries written to %s", b.Len(), *output)
}
