package crawler

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// renderPageHTML loads the page in headless Chrome, waits for it to settle,
// then returns the rendered HTML. The readiness waits are best effort.
func renderPageHTML(ctx context.Context, urlStr string, cfg Config) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, cfg.RenderTimeout)
	defer cancel()

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.UserAgent(cfg.UserAgent),
	)
	defer allocCancel()

	browserCtx, browserCancel := chromedp.NewContext(allocCtx)
	defer browserCancel()

	if err := chromedp.Run(browserCtx, chromedp.Navigate(urlStr)); err != nil {
		return "", err
	}

	runSoft(browserCtx, 10*time.Second, chromedp.WaitReady("body", chromedp.ByQuery))
	if cfg.WaitSelector != "" {
		runSoft(browserCtx, 15*time.Second, chromedp.WaitVisible(cfg.WaitSelector, chromedp.ByQuery))
	}
	if cfg.NetworkIdleAfter > 0 {
		idle := min(cfg.NetworkIdleAfter, 5*time.Second)
		runSoft(browserCtx, idle+time.Second, waitForNetworkIdle(idle))
	}

	var html string
	if err := chromedp.Run(browserCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err != nil {
		return "", err
	}
	return html, nil
}

func runSoft(ctx context.Context, limit time.Duration, action chromedp.Action) {
	stepCtx, cancel := context.WithTimeout(ctx, limit)
	defer cancel()
	_ = chromedp.Run(stepCtx, action)
}

// waitForNetworkIdle waits until no resource has loaded for d.
func waitForNetworkIdle(d time.Duration) chromedp.ActionFunc {
	js := `(function(waitMs){
      return new Promise((resolve)=>{
        if (!('PerformanceObserver' in window)) {
          setTimeout(resolve, waitMs);
          return;
        }
        let last = Date.now();
        const obs = new PerformanceObserver(()=>{ last = Date.now(); });
        try { obs.observe({entryTypes:['resource','navigation']}); } catch(e) {}
        const tick = () => {
          if (Date.now()-last >= waitMs) { try { obs.disconnect(); } catch(e){} resolve(); return; }
          setTimeout(tick, 100);
        };
        tick();
      });
    })(%d);`
	return func(ctx context.Context) error {
		return chromedp.Run(ctx, chromedp.Evaluate(fmt.Sprintf(js, int(d.Milliseconds())), nil))
	}
}
