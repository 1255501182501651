package main

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
)

type webServer struct {
	app     *fiber.App
	addr    string
	dir     string
	running bool
	mu      sync.RWMutex
	errc    chan error
}

var ws webServer

// StartWeb starts a Fiber server in a goroutine: static UI from `dir` at
// `/`, JSON API under `/api`. Binds 0.0.0.0 so the LAN can reach it.
func StartWeb(port int, dir string, session *Session) error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if ws.running {
		return fmt.Errorf("web server already running at http://%s", ws.addr)
	}
	if dir == "" {
		dir = "public"
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("public dir %q not found: %w", dir, err)
	}

	ws.addr = fmt.Sprintf("0.0.0.0:%d", port)
	ws.dir = dir
	ws.errc = make(chan error, 1)

	app := fiber.New(fiber.Config{
		ServerHeader:          "CNN-Visualizer",
		AppName:               "CNN Visualizer",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          30 * time.Second,
		IdleTimeout:           60 * time.Second,
		BodyLimit:             uploadLimit,
	})

	// Middleware
	app.Use(logger.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "*",
	}))
	app.Use(compress.New(compress.Config{Level: compress.LevelBestSpeed}))

	// Health/info
	app.Get("/healthz", func(c *fiber.Ctx) error { return c.SendString("ok") })
	app.Get("/whoami", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"addr":       ws.addr,
			"public_dir": filepath.Clean(ws.dir),
			"lan_urls":   lanURLs(port),
			"go":         runtime.Version(),
			"os":         runtime.GOOS + "/" + runtime.GOARCH,
			"cpus":       runtime.NumCPU(),
			"started_at": time.Now().UTC(),
		})
	})

	registerAPI(app, session)
	RegisterUpload(app, session)

	// Static UI
	app.Static("/", filepath.Clean(ws.dir), fiber.Static{
		Index:         "index.html",
		CacheDuration: time.Hour,
	})

	// Run in background
	go func() {
		ws.errc <- app.Listen(ws.addr)
	}()

	ws.app = app
	ws.running = true
	printServerBanner(port, dir)
	return nil
}

// StopWeb gracefully shuts the server down.
func StopWeb() error {
	ws.mu.Lock()
	defer ws.mu.Unlock()

	if !ws.running || ws.app == nil {
		return fmt.Errorf("web server is not running")
	}
	err := ws.app.Shutdown()
	ws.running = false
	ws.app = nil
	select {
	case <-ws.errc:
	default:
	}
	return err
}

// WebStatus returns whether the server is running and its bind address.
func WebStatus() (bool, string) {
	ws.mu.RLock()
	defer ws.mu.RUnlock()
	return ws.running, ws.addr
}

// ─────────────────────────── API ───────────────────────────

func registerAPI(app *fiber.App, session *Session) {
	api := app.Group("/api")

	api.Get("/state", func(c *fiber.Ctx) error {
		return c.JSON(session.Snapshot())
	})

	api.Post("/image", func(c *fiber.Ctx) error {
		var body struct {
			Pixels []int `json:"pixels"`
		}
		if err := c.BodyParser(&body); err != nil {
			return apiError(c, fmt.Errorf("bad image payload: %w", err))
		}
		if len(body.Pixels) != canvasSize*canvasSize {
			return apiError(c, fmt.Errorf("want %d pixels, got %d", canvasSize*canvasSize, len(body.Pixels)))
		}
		pixels := make([]uint8, len(body.Pixels))
		for i, p := range body.Pixels {
			if p < 0 {
				p = 0
			}
			if p > 255 {
				p = 255
			}
			pixels[i] = uint8(p)
		}
		img, err := NewRasterImage(canvasSize, canvasSize, pixels)
		if err != nil {
			return apiError(c, err)
		}
		if err := session.SetImage(img); err != nil {
			return apiError(c, err)
		}
		return c.JSON(session.Snapshot())
	})

	api.Post("/clear", func(c *fiber.Ctx) error {
		session.ClearImage()
		return c.JSON(session.Snapshot())
	})

	api.Post("/train", func(c *fiber.Ctx) error {
		if err := session.StartTraining(defaultTrainConfig()); err != nil {
			return apiError(c, err)
		}
		return c.Status(fiber.StatusAccepted).JSON(session.Snapshot())
	})

	api.Post("/predict", func(c *fiber.Ctx) error {
		result, err := session.Predict()
		if err != nil {
			return apiError(c, err)
		}
		return c.JSON(result)
	})

	api.Post("/reset", func(c *fiber.Ctx) error {
		if err := session.Reset(); err != nil {
			return apiError(c, err)
		}
		return c.JSON(session.Snapshot())
	})

	api.Get("/activations/:layer", func(c *fiber.Ctx) error {
		maps, err := session.Introspect(c.Params("layer"))
		if err != nil {
			return apiError(c, err)
		}
		panel, err := RenderActivations(maps)
		if err != nil {
			return apiError(c, err)
		}
		return c.JSON(panel)
	})

	api.Get("/kernel", func(c *fiber.Ctx) error {
		layer := c.Query("layer", "conv1")
		kernel, bias, err := session.Kernel(layer)
		if err != nil {
			return apiError(c, err)
		}
		return c.JSON(fiber.Map{
			"layer":  layer,
			"kernel": gridRows(kernel),
			"bias":   bias,
		})
	})

	// Replay surface
	api.Get("/replay", replayHandler(session, func(e *ReplayEngine) error { return nil }))
	api.Post("/replay/advance", replayHandler(session, func(e *ReplayEngine) error {
		e.Advance()
		return nil
	}))
	api.Post("/replay/reset", replayHandler(session, func(e *ReplayEngine) error {
		e.Reset()
		return nil
	}))
	api.Post("/replay/pause", replayHandler(session, func(e *ReplayEngine) error {
		e.Pause()
		return nil
	}))
	api.Post("/replay/auto", func(c *fiber.Ctx) error {
		var body struct {
			Speed string `json:"speed"`
		}
		if err := c.BodyParser(&body); err != nil {
			return apiError(c, fmt.Errorf("bad replay payload: %w", err))
		}
		snap, err := session.WithReplay(func(e *ReplayEngine) error {
			return e.StartAuto(ReplaySpeed(body.Speed))
		})
		if err != nil {
			return apiError(c, err)
		}
		return c.JSON(snap)
	})
}

func replayHandler(session *Session, op func(*ReplayEngine) error) fiber.Handler {
	return func(c *fiber.Ctx) error {
		snap, err := session.WithReplay(op)
		if err != nil {
			return apiError(c, err)
		}
		return c.JSON(snap)
	}
}

// apiError maps the error taxonomy onto HTTP status codes.
func apiError(c *fiber.Ctx, err error) error {
	status := fiber.StatusBadRequest
	switch {
	case errors.Is(err, ErrDataUnavailable):
		status = fiber.StatusServiceUnavailable
	case errors.Is(err, ErrTrainingBusy):
		status = fiber.StatusConflict
	case errors.Is(err, ErrUnknownLayer):
		status = fiber.StatusNotFound
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

// ---- helpers ----

func lanURLs(port int) []string {
	var urls []string
	ifaces, _ := net.Interfaces()
	for _, ifc := range ifaces {
		if ifc.Flags&net.FlagUp == 0 || ifc.Flags&net.FlagLoopback != 0 {
			continue
		}
		addrs, _ := ifc.Addrs()
		for _, a := range addrs {
			if ipnet, ok := a.(*net.IPNet); ok && ipnet.IP.To4() != nil {
				urls = append(urls, fmt.Sprintf("http://%s:%d", ipnet.IP.String(), port))
			}
		}
	}
	urls = append(urls, fmt.Sprintf("http://127.0.0.1:%d", port))
	return urls
}

func printServerBanner(port int, dir string) {
	fmt.Println("🌐 Web server started")
	for _, u := range lanURLs(port) {
		fmt.Printf("   → %s\n", u)
	}
	fmt.Printf("   Serving UI from: %s\n", filepath.Clean(dir))
}
