package api

import (
	"context"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	"github.com/fathima-sithara/churchconnect/internal/auth"
	"github.com/fathima-sithara/churchconnect/internal/cache"
	"github.com/fathima-sithara/churchconnect/internal/chat"
	"github.com/fathima-sithara/churchconnect/internal/metrics"
)

// PresenceReader reads the cross-instance presence mirror.
type PresenceReader interface {
	Get(ctx context.Context, userID string) (*cache.Status, error)
}

// Registrar mounts extra routes on the root app, such as the websocket endpoint.
type Registrar interface {
	Register(r fiber.Router)
}

type Deps struct {
	Chat        *chat.Service
	Verifier    *auth.Verifier
	Presence    PresenceReader     // optional
	RateLimiter *cache.RateLimiter // optional
	Metrics     *metrics.Metrics   // optional
	WS          Registrar          // optional
	CORSOrigins []string
	Log         *zap.SugaredLogger
}

type Server struct {
	chat     *chat.Service
	presence PresenceReader
	log      *zap.SugaredLogger
}

func NewServer(d Deps) *fiber.App {
	app := fiber.New(fiber.Config{
		AppName:               "churchconnect",
		DisableStartupMessage: true,
		ErrorHandler:          ErrorHandler(d.Log),
		ReadTimeout:           15 * time.Second,
	})
	app.Use(recover.New())
	app.Use(RequestLogger(d.Log))
	origins := "*"
	if len(d.CORSOrigins) > 0 {
		origins = strings.Join(d.CORSOrigins, ",")
	}
	app.Use(cors.New(cors.Config{
		AllowOrigins: origins,
		AllowHeaders: "Origin, Content-Type, Accept, Authorization",
	}))

	s := &Server{chat: d.Chat, presence: d.Presence, log: d.Log}

	if d.Metrics != nil {
		app.Get("/metrics", d.Metrics.Handler())
	}
	if d.WS != nil {
		d.WS.Register(app)
	}

	api := app.Group("/v1")
	api.Get("/health", func(c *fiber.Ctx) error { return c.JSON(fiber.Map{"status": "ok"}) })

	api.Use(JWTAuthMiddleware(d.Verifier))
	if d.RateLimiter != nil {
		api.Use(d.RateLimiter.Middleware(callerID))
	}

	api.Get("/conversations", s.listConversations)
	api.Post("/conversations", s.createConversation)
	api.Get("/conversations/:id/messages", s.listMessages)
	api.Post("/conversations/:id/messages", s.sendMessage)
	api.Post("/conversations/:id/read", s.markRead)
	api.Get("/conversations/:id/members", s.listMembers)
	api.Post("/conversations/:id/members", s.addMember)
	api.Delete("/messages/:id", s.deleteMessage)
	api.Get("/users/search", s.searchUsers)
	api.Get("/users/:id", s.getUser)
	api.Get("/presence/:user_id", s.getPresence)

	return app
}
