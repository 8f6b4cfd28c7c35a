package docparse

import (
	"bytes"
	"fmt"
	"io"
	"runtime"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu"
	"github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
	"golang.org/x/sync/errgroup"

	"github.com/PhantomAgents/phantom-mvp/engine/domain"
)

const maxPDFWorkers = 4

// parsePDF returns the reconstructed paragraph texts of every page, in page
// order. Pages are sharded across workers; each worker decodes its own
// context because model.Context is not safe for concurrent extraction.
func parsePDF(data []byte) ([][]string, error) {
	conf := model.NewDefaultConfiguration()
	conf.ValidationMode = model.ValidationRelaxed

	ctx, err := api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
	if err != nil {
		return nil, fmt.Errorf("docparse: open pdf: %w: %v", domain.ErrParseFailure, err)
	}
	n := ctx.PageCount
	if n == 0 {
		return nil, nil
	}

	workers := runtime.GOMAXPROCS(0)
	if workers > maxPDFWorkers {
		workers = maxPDFWorkers
	}
	if workers > n {
		workers = n
	}

	pages := make([][]string, n)
	var g errgroup.Group
	for w := 0; w < workers; w++ {
		g.Go(func() error {
			pctx := ctx
			if w != 0 {
				var err error
				pctx, err = api.ReadValidateAndOptimize(bytes.NewReader(data), conf)
				if err != nil {
					return fmt.Errorf("docparse: reopen pdf: %w: %v", domain.ErrParseFailure, err)
				}
			}
			for pageNr := w + 1; pageNr <= n; pageNr += workers {
				r, err := pdfcpu.ExtractPageContent(pctx, pageNr)
				if err != nil {
					return fmt.Errorf("docparse: page %d: %w: %v", pageNr, domain.ErrParseFailure, err)
				}
				if r == nil {
					continue
				}
				stream, err := io.ReadAll(r)
				if err != nil {
					return fmt.Errorf("docparse: page %d: %w: %v", pageNr, domain.ErrParseFailure, err)
				}
				pages[pageNr-1] = pageParagraphs(stream)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return pages, nil
}
