// Command g3ddemo renders a shadowed, textured cube with g3d.
//
// Without a window it renders headless into the offscreen swap chain.
// Shaders and root signatures are read from an asset directory; with
// -watch, edits to them are compiled and swapped in while the demo runs.
//
//	g3ddemo -frames 600 -watch -assets ./assets -v
package main

import (
	"context"
	"embed"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"

	"golang.org/x/sync/errgroup"

	"github.com/gogpu/g3d"
	"github.com/gogpu/g3d/watch"
)

//go:embed assets
var embedded embed.FS

func main() {
	var (
		width    = flag.Uint("width", 1280, "swap chain width")
		height   = flag.Uint("height", 720, "swap chain height")
		frames   = flag.Uint64("frames", 300, "frames to render, 0 for no limit")
		inFlight = flag.Int("frames-in-flight", g3d.DefaultFramesInFlight, "frames the CPU may run ahead")
		assets   = flag.String("assets", "", "shader and root signature directory (default: a temporary copy of the built-in assets)")
		albedo   = flag.String("texture", "", "albedo image, PNG or BMP (default: a checkerboard)")
		hot      = flag.Bool("watch", false, "reload shaders and root signatures when they change")
		resizeAt = flag.Uint64("resize-at", 0, "shrink the swap chain at this frame")
		verbose  = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	g3d.SetLogger(log)

	cfg := g3d.DefaultConfig()
	cfg.Width, cfg.Height = uint32(*width), uint32(*height) //nolint:gosec // G115: flag values
	cfg.FramesInFlight = *inFlight

	if err := run(cfg, options{
		assets:   *assets,
		albedo:   *albedo,
		watch:    *hot,
		frames:   *frames,
		resizeAt: *resizeAt,
	}, log); err != nil {
		log.Error("g3ddemo failed", "err", err)
		os.Exit(1)
	}
}

type options struct {
	assets   string
	albedo   string
	watch    bool
	frames   uint64
	resizeAt uint64
}

func run(cfg g3d.Config, opts options, log *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	dir := opts.assets
	if dir == "" {
		tmp, err := os.MkdirTemp("", "g3ddemo-")
		if err != nil {
			return err
		}
		defer os.RemoveAll(tmp)
		dir = tmp
	}
	if err := writeAssets(dir); err != nil {
		return fmt.Errorf("assets: %w", err)
	}
	log.Info("assets", "dir", dir, "watch", opts.watch)

	gpu, err := g3d.New(g3d.WithConfig(cfg))
	if err != nil {
		return err
	}
	defer gpu.Close()

	sc, err := newScene(gpu, dir, opts.albedo, log)
	if err != nil {
		return err
	}
	defer sc.close()

	grp, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	if opts.watch {
		m, err := watch.New()
		if err != nil {
			return err
		}
		defer m.Close()
		if err := sc.shadow.Watch(m); err != nil {
			return err
		}
		if err := sc.forward.Watch(m); err != nil {
			return err
		}
		grp.Go(func() error { return m.Run(ctx) })
	}
	grp.Go(func() error {
		defer cancel()
		return sc.run(ctx, opts.frames, opts.resizeAt)
	})
	if err := grp.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// writeAssets copies the built-in assets into dir, keeping files that
// already exist there.
func writeAssets(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	return fs.WalkDir(embedded, "assets", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		dst := filepath.Join(dir, d.Name())
		if _, err := os.Stat(dst); err == nil {
			return nil
		}
		data, err := embedded.ReadFile(path)
		if err != nil {
			return err
		}
		return os.WriteFile(dst, data, 0o644) //nolint:gosec // G306: user-editable assets
	})
}
