package main

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"os"
	"time"

	"personafeed/pkg/cache"
	"personafeed/pkg/config"
	"personafeed/pkg/engine"
	"personafeed/pkg/holiday"
	"personafeed/pkg/imagegen"
	"personafeed/pkg/ledger"
	"personafeed/pkg/media"
	"personafeed/pkg/news"
	"personafeed/pkg/notify"
	"personafeed/pkg/persona"
	"personafeed/pkg/ratelimit"
	"personafeed/pkg/scheduler"
	"personafeed/pkg/storage"
	"personafeed/pkg/store"
	"personafeed/pkg/surreal"
	"personafeed/pkg/templates"
	"personafeed/pkg/textgen"
)

// app holds every wired component for one process.
type app struct {
	cfg       *config.Config
	store     store.Store
	cache     *cache.Cache
	ledger    *ledger.Ledger
	limiter   *ratelimit.Limiter
	engine    *engine.Engine
	creator   *persona.Creator
	scheduler *scheduler.Scheduler
	holidays  *holiday.Provider
	closers   []func()
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}
	seed := time.Now().UnixNano()

	// Redis backs the ledger and the read caches when it is available.
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		c, err := cache.NewRedisCache(redisURL, "personafeed")
		if err != nil {
			log.Printf("Warning: Failed to connect to Redis: %v. Using in-memory ledger.", err)
		} else {
			log.Println("Connected to Redis")
			a.cache = c
			a.closers = append(a.closers, func() { c.Close() })
		}
	}

	s, err := openStore(ctx, cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() { s.Close() })
	a.store = s
	if a.cache != nil {
		a.store = store.NewCachedStore(s, a.cache, cfg.Scheduler.RecentWindow)
	}

	var bag ledger.Bag
	if a.cache != nil {
		bag = ledger.NewRedisBag(a.cache)
	} else {
		log.Println("Warning: REDIS_URL not set, account balances will not persist")
		bag = ledger.NewMemoryBag()
	}
	a.ledger = ledger.New(bag, ledger.Options{
		DefaultQuota:   cfg.Budget.DefaultQuota,
		PersonaMinimum: cfg.Budget.PersonaMinimum,
		ImageMinimum:   cfg.Budget.ImageMinimum,
	})

	costs := ledger.CostModel{
		Multipliers:    map[string]int64{cfg.Models.Profile: cfg.Models.ProfileMultiplier},
		ImageSurcharge: cfg.Budget.ImageSurcharge,
	}
	a.limiter = ratelimit.New(cfg.Budget.ActionsPerMinute)
	a.holidays = holiday.NewProvider(holiday.Calendar, rand.New(rand.NewSource(seed)))

	openaiKey := os.Getenv("OPENAI_API_KEY")
	if openaiKey == "" {
		a.Close()
		return nil, fmt.Errorf("OPENAI_API_KEY environment variable is required")
	}
	text := textgen.NewClient(openaiKey, textgen.Options{
		BaseURL:           cfg.Models.BaseURL,
		RequestsPerSecond: cfg.Models.RequestsPerSecond,
		Timeout:           cfg.CallTimeout(),
	})

	normalizer := media.NewImageProcessor(media.Options{
		MaxDimension: cfg.Images.MaxDimension,
		Quality:      cfg.Images.Quality,
	})

	engineDeps := engine.Deps{
		Store:      a.store,
		Ledger:     a.ledger,
		Text:       text,
		Normalizer: normalizer,
		Holidays:   a.holidays,
		Templates:  templates.NewSelector(templates.DefaultPools(), rand.New(rand.NewSource(seed+1))),
		Limiter:    a.limiter,
		Costs:      costs,
	}
	creatorDeps := persona.Deps{
		Store:      a.store,
		Ledger:     a.ledger,
		Text:       text,
		Normalizer: normalizer,
		Limiter:    a.limiter,
		Costs:      costs,
	}

	if token := os.Getenv("IMAGE_API_TOKEN"); token != "" {
		images := imagegen.NewClient(token, imagegen.Options{
			BaseURL:           cfg.Images.BaseURL,
			Model:             cfg.Images.Model,
			Timeout:           cfg.CallTimeout(),
			RequestsPerSecond: cfg.Images.RequestsPerSecond,
		})
		engineDeps.Images = images
		creatorDeps.Images = images
	} else {
		log.Println("Warning: IMAGE_API_TOKEN not set, image generation disabled")
	}

	if apiKey := os.Getenv("NEWS_API_KEY"); apiKey != "" {
		opts := news.Options{
			Endpoint:  cfg.News.Endpoint,
			Market:    cfg.News.Market,
			Count:     cfg.News.Count,
			Blocklist: cfg.News.Blocklist,
			CacheTTL:  cfg.NewsCacheTTL(),
		}
		if a.cache != nil {
			opts.Cache = a.cache
		}
		engineDeps.News = news.NewClient(apiKey, opts)
	} else {
		log.Println("Warning: NEWS_API_KEY not set, news posts will fall back to original posts")
	}

	bucket, err := storage.NewBucket(ctx, storage.Config{
		Bucket:        cfg.Storage.Bucket,
		Region:        cfg.Storage.Region,
		Endpoint:      cfg.Storage.Endpoint,
		AccessKey:     os.Getenv("AWS_ACCESS_KEY_ID"),
		SecretKey:     os.Getenv("AWS_SECRET_ACCESS_KEY"),
		PublicBaseURL: cfg.Storage.PublicBaseURL,
		UsePathStyle:  cfg.Storage.UsePathStyle,
	})
	if err != nil {
		log.Printf("Warning: Failed to configure object storage: %v. Images will not be stored.", err)
	} else {
		engineDeps.Storage = bucket
		creatorDeps.Bucket = bucket
	}

	a.engine = engine.New(engineDeps, engine.Options{
		Model:         cfg.Models.Post,
		Temperature:   cfg.Models.Temperature,
		MaxTokens:     cfg.Models.MaxTokens,
		ImageChance:   cfg.Images.ChancePercent,
		DisableSafety: cfg.Images.DisableSafety,
		RecentWindow:  cfg.Scheduler.RecentWindow,
		CallTimeout:   cfg.CallTimeout(),
		Rand:          rand.New(rand.NewSource(seed + 2)),
	})
	a.creator = persona.NewCreator(creatorDeps, persona.Options{
		Model:         cfg.Models.Profile,
		Temperature:   cfg.Models.Temperature,
		DisableSafety: cfg.Images.DisableSafety,
		CallTimeout:   cfg.CallTimeout(),
	})

	var notifier scheduler.Notifier
	if token, channel := os.Getenv("DISCORD_TOKEN"), os.Getenv("DISCORD_REPORT_CHANNEL_ID"); token != "" && channel != "" {
		d, err := notify.NewDiscordFromToken(token, channel)
		if err != nil {
			log.Printf("Warning: %v. Batch reports disabled.", err)
		} else {
			notifier = d
		}
	}
	a.scheduler = scheduler.New(a.store, a.engine, a.ledger, notifier, scheduler.Options{
		PostDelay: cfg.PostDelay(),
		Rand:      rand.New(rand.NewSource(seed + 3)),
	})

	return a, nil
}

// closableStore is a repository that owns a connection.
type closableStore interface {
	store.Store
	Close() error
}

func openStore(ctx context.Context, cfg *config.Config) (closableStore, error) {
	switch cfg.Database.Driver {
	case "surreal", "surrealdb":
		host := os.Getenv("SURREAL_DB_HOST")
		user := os.Getenv("SURREAL_DB_USER")
		pass := os.Getenv("SURREAL_DB_PASS")
		ns := os.Getenv("SURREAL_DB_NAMESPACE")
		db := os.Getenv("SURREAL_DB_DATABASE")

		if host == "" {
			return nil, fmt.Errorf("SURREAL_DB_HOST environment variable is required")
		}
		if user == "" || pass == "" {
			return nil, fmt.Errorf("SURREAL_DB_USER and SURREAL_DB_PASS environment variables are required")
		}
		if ns == "" {
			ns = "personafeed"
		}
		if db == "" {
			db = "feed"
		}

		log.Printf("Connecting to SurrealDB at %s (NS: %s, DB: %s)", surreal.NormalizeHost(host), ns, db)
		client, err := surreal.NewClient(ctx, host, user, pass, ns, db)
		if err != nil {
			return nil, fmt.Errorf("error connecting to SurrealDB: %w", err)
		}
		return store.NewSurrealStore(ctx, client), nil
	case "", "sqlite":
		log.Printf("Opening SQLite database at %s", cfg.Database.SQLitePath)
		return store.OpenSQLite(cfg.Database.SQLitePath)
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Database.Driver)
	}
}
