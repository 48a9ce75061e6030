// Package browser runs the exam page in a Chrome app window driven over the
// DevTools protocol and exposes it as an integrity.Surface.
package browser

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/chromedp/cdproto/inspector"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/runtime"
	"github.com/chromedp/chromedp"

	"go.olrik.dev/invigilator/internal/integrity"
)

// ErrSurfaceClosed is returned by surface operations after the window is gone
var ErrSurfaceClosed = errors.New("browser surface closed")

const (
	blurBinding  = "__invigilatorBlur"
	inputBinding = "__invigilatorInput"

	evalTimeout = 5 * time.Second
)

// Options configures the browser window
type Options struct {
	URL      string
	Width    int
	Height   int
	Headless bool

	// ExecPath overrides the Chrome binary; empty means search PATH
	ExecPath string

	Logger *slog.Logger
}

// Surface is the exam window
type Surface struct {
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu        sync.RWMutex
	focusLost []func()
	rawInput  []func()

	destroyed atomic.Bool
	done      chan struct{}
}

var _ integrity.Surface = (*Surface)(nil)

// Launch starts Chrome, installs the page observers and opens the exam URL.
// The window lives until ctx is cancelled, Close is called or the user
// closes it.
func Launch(ctx context.Context, opts Options) (*Surface, error) {
	if opts.URL == "" {
		return nil, errors.New("exam URL is required")
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}

	allocOpts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", opts.Headless),
		chromedp.Flag("app", opts.URL),
		chromedp.Flag("disable-extensions", true),
		chromedp.Flag("disable-translate", true),
	)
	if opts.Width > 0 && opts.Height > 0 {
		allocOpts = append(allocOpts, chromedp.WindowSize(opts.Width, opts.Height))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, allocOpts...)
	tabCtx, tabCancel := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(func(format string, args ...any) {
			opts.Logger.Debug(fmt.Sprintf(format, args...))
		}),
	)

	s := &Surface{
		ctx: tabCtx,
		cancel: func() {
			tabCancel()
			allocCancel()
		},
		logger: opts.Logger,
		done:   make(chan struct{}),
	}

	chromedp.ListenTarget(tabCtx, s.handleEvent)

	err := chromedp.Run(tabCtx,
		runtime.AddBinding(blurBinding),
		runtime.AddBinding(inputBinding),
		onNewDocument(observerScript()),
		chromedp.Navigate(opts.URL),
	)
	if err != nil {
		s.cancel()
		return nil, fmt.Errorf("failed to open exam window: %w", err)
	}

	go func() {
		<-tabCtx.Done()
		s.markDestroyed("context done")
	}()

	s.logger.Info("Exam window opened", "url", opts.URL, "headless", opts.Headless)
	return s, nil
}

func (s *Surface) handleEvent(ev any) {
	switch ev := ev.(type) {
	case *runtime.EventBindingCalled:
		switch ev.Name {
		case blurBinding:
			s.dispatch(s.focusHandlers())
		case inputBinding:
			s.dispatch(s.inputHandlers())
		}
	case *inspector.EventDetached:
		s.markDestroyed(ev.Reason)
		// Closing the tab context from inside the listener would deadlock
		go s.cancel()
	}
}

func (s *Surface) focusHandlers() []func() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]func(){}, s.focusLost...)
}

func (s *Surface) inputHandlers() []func() {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]func(){}, s.rawInput...)
}

// dispatch runs handlers off the DevTools event goroutine
func (s *Surface) dispatch(handlers []func()) {
	if len(handlers) == 0 || s.destroyed.Load() {
		return
	}
	go func() {
		for _, fn := range handlers {
			fn()
		}
	}()
}

func (s *Surface) markDestroyed(reason string) {
	if s.destroyed.CompareAndSwap(false, true) {
		close(s.done)
		s.logger.Info("Exam window closed", "reason", reason)
	}
}

// OnFocusLost registers a handler for the window losing focus
func (s *Surface) OnFocusLost(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.focusLost = append(s.focusLost, fn)
}

// OnRawInput registers a handler for any user input in the page
func (s *Surface) OnRawInput(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rawInput = append(s.rawInput, fn)
}

// RenderBanner replaces the on-page banner
func (s *Surface) RenderBanner(message string, severity integrity.Severity) error {
	return s.evaluate(bannerScript(message, severity))
}

// SuppressAllInput blocks pointer, keyboard, wheel and touch input in the
// page and in every document the window loads afterwards
func (s *Surface) SuppressAllInput() error {
	return s.run(lockTasks())
}

// lockTasks installs the lock for future documents before applying it to
// the current one
func lockTasks() chromedp.Tasks {
	return chromedp.Tasks{
		onNewDocument(lockScript()),
		chromedp.Evaluate(lockScript(), nil),
	}
}

// onNewDocument installs a script that runs in every new document before
// the page's own scripts
type onNewDocument string

func (script onNewDocument) Do(ctx context.Context) error {
	_, err := page.AddScriptToEvaluateOnNewDocument(string(script)).Do(ctx)
	return err
}

// SendToRenderer dispatches payload to the page as a DOM CustomEvent named
// after the channel
func (s *Surface) SendToRenderer(channel string, payload any) error {
	script, err := channelScript(channel, payload)
	if err != nil {
		return err
	}
	return s.evaluate(script)
}

// IsDestroyed reports whether the window has been closed
func (s *Surface) IsDestroyed() bool {
	return s.destroyed.Load()
}

// Done is closed when the window is closed
func (s *Surface) Done() <-chan struct{} {
	return s.done
}

// Close shuts the browser down
func (s *Surface) Close() {
	s.cancel()
	s.markDestroyed("closed")
}

func (s *Surface) evaluate(script string) error {
	return s.run(chromedp.Evaluate(script, nil))
}

func (s *Surface) run(action chromedp.Action) error {
	if s.destroyed.Load() {
		return ErrSurfaceClosed
	}
	ctx, cancel := context.WithTimeout(s.ctx, evalTimeout)
	defer cancel()
	if err := chromedp.Run(ctx, action); err != nil {
		return fmt.Errorf("evaluate in exam window: %w", err)
	}
	return nil
}
