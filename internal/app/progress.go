package app

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/schollz/progressbar/v3"
	"github.com/sha1n/artifact-index/internal/artifacts"
	"github.com/sha1n/artifact-index/internal/remote"
)

// NewProgressBars returns a progress factory drawing one bar per remote
// transfer on w. Transfers of unknown size are drawn as spinners.
func NewProgressBars(w io.Writer) artifacts.ProgressFactory {
	var mu sync.Mutex
	return func(contextName string) remote.ProgressFunc {
		var bar *progressbar.ProgressBar
		var resource string

		return func(p remote.Progress) {
			mu.Lock()
			defer mu.Unlock()

			if bar == nil || resource != p.Resource {
				resource = p.Resource
				bar = progressbar.NewOptions64(p.Total,
					progressbar.OptionSetWriter(w),
					progressbar.OptionEnableColorCodes(true),
					progressbar.OptionShowBytes(true),
					progressbar.OptionSetWidth(40),
					progressbar.OptionThrottle(100*time.Millisecond),
					progressbar.OptionSetDescription(fmt.Sprintf("[cyan]%s[reset] %s", contextName, p.Resource)),
					progressbar.OptionSetTheme(progressbar.Theme{
						Saucer:        "[green]=[reset]",
						SaucerHead:    "[green]>[reset]",
						SaucerPadding: " ",
						BarStart:      "[",
						BarEnd:        "]",
					}),
					progressbar.OptionOnCompletion(func() {
						_, _ = fmt.Fprintln(w)
					}),
				)
			}

			_ = bar.Set64(p.Transferred)
			if p.Done {
				_ = bar.Finish()
				bar = nil
			}
		}
	}
}
