package voltstream

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"github.com/voltstream/voltstream.go/pkg/connection"
	"github.com/voltstream/voltstream.go/pkg/connection/gqlws"
	"github.com/voltstream/voltstream.go/pkg/constants"
	"github.com/voltstream/voltstream.go/pkg/logger"
	"github.com/voltstream/voltstream.go/pkg/rest"
)

// Version of the SDK, appended to the caller's user agent.
const Version = "0.1.0"

// DefaultAPIEndpoint is the production GraphQL endpoint.
const DefaultAPIEndpoint = "https://api.voltstream.energy/v1/graphql"

// Config configures a Client.
type Config struct {
	// AccessToken authenticates both the HTTP and the realtime endpoint.
	AccessToken string

	// UserAgent identifies the platform running this SDK. Required; the
	// SDK appends its own version.
	UserAgent string

	// APIEndpoint defaults to DefaultAPIEndpoint.
	APIEndpoint string

	// Timeout bounds each HTTP request and each websocket handshake.
	// Defaults to constants.DefaultTimeout.
	Timeout time.Duration

	// HTTPClient, when set, replaces the default http.Client.
	HTTPClient *http.Client

	// ReconnectRetryer paces realtime reconnect attempts. Defaults to
	// exponential backoff with jitter.
	ReconnectRetryer connection.Retryer

	// ReconnectCheckInterval is how often the realtime connection is
	// checked for liveness.
	ReconnectCheckInterval time.Duration

	Logger logger.Logger
}

// Client talks to the Voltstream API: one-shot GraphQL queries over HTTP
// and live measurement subscriptions over websocket.
//
// Call UpdateInfo first; it discovers the realtime endpoint and the
// caller's homes. Then Connect, and subscribe per home.
type Client struct {
	rest      *rest.Client
	transport *gqlws.Connection
	manager   *connection.Manager
	logger    logger.Logger

	mu            sync.RWMutex
	name          string
	userID        string
	activeHomeIDs []string
	allHomeIDs    []string
	homes         map[string]*Home
}

// New creates a Client. The realtime endpoint is unknown until UpdateInfo
// has asked the API for it.
func New(cfg *Config) (*Client, error) {
	if cfg == nil || cfg.UserAgent == "" {
		return nil, constants.ErrUserAgentMissing
	}

	userAgent := fmt.Sprintf("%s voltstream-go/%s", cfg.UserAgent, Version)

	log := cfg.Logger
	if log == nil {
		log = logger.New(slog.NewJSONHandler(os.Stdout, nil))
	}

	endpoint := cfg.APIEndpoint
	if endpoint == "" {
		endpoint = DefaultAPIEndpoint
	}

	restClient := rest.New(&rest.Config{
		Endpoint:    endpoint,
		AccessToken: cfg.AccessToken,
		UserAgent:   userAgent,
		Timeout:     cfg.Timeout,
		HTTPClient:  cfg.HTTPClient,
		Logger:      log,
	})

	transport := gqlws.New(&gqlws.Config{
		AccessToken: cfg.AccessToken,
		UserAgent:   userAgent,
		Logger:      log,
	})

	manager, err := connection.NewManager(&connection.Config{
		Transport:      transport,
		Retryer:        cfg.ReconnectRetryer,
		ConnectTimeout: cfg.Timeout,
		CheckInterval:  cfg.ReconnectCheckInterval,
		Logger:         log,
	})
	if err != nil {
		return nil, err
	}

	return &Client{
		rest:      restClient,
		transport: transport,
		manager:   manager,
		logger:    log,
		homes:     make(map[string]*Home),
	}, nil
}

type viewerInfo struct {
	Viewer struct {
		Name                     string `json:"name"`
		UserID                   string `json:"userId"`
		WebsocketSubscriptionURL string `json:"websocketSubscriptionUrl"`
		Homes                    []struct {
			ID            string `json:"id"`
			AppNickname   string `json:"appNickname"`
			Subscriptions []struct {
				Status string `json:"status"`
			} `json:"subscriptions"`
		} `json:"homes"`
	} `json:"viewer"`
}

// UpdateInfo fetches the viewer info: account name, home registry, and the
// realtime endpoint, which it wires into the connection manager. A home is
// active when its current subscription status is "running".
func (c *Client) UpdateInfo(ctx context.Context) error {
	data, err := c.rest.Execute(ctx, infoQuery, nil)
	if err != nil {
		return err
	}
	if data == nil {
		return nil
	}

	var info viewerInfo
	if err := json.Unmarshal(data, &info); err != nil {
		return fmt.Errorf("decoding viewer info: %w", err)
	}

	if url := info.Viewer.WebsocketSubscriptionURL; url != "" {
		c.manager.SetEndpoint(url)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	c.name = info.Viewer.Name
	c.userID = info.Viewer.UserID
	c.allHomeIDs = c.allHomeIDs[:0]
	c.activeHomeIDs = c.activeHomeIDs[:0]

	for _, h := range info.Viewer.Homes {
		if h.ID == "" {
			continue
		}
		c.allHomeIDs = append(c.allHomeIDs, h.ID)

		active := len(h.Subscriptions) > 0 &&
			strings.EqualFold(h.Subscriptions[0].Status, "running")
		if active {
			c.activeHomeIDs = append(c.activeHomeIDs, h.ID)
		}

		if home, ok := c.homes[h.ID]; ok {
			home.nickname = h.AppNickname
			home.active = active
		} else {
			c.homes[h.ID] = &Home{
				id:       h.ID,
				nickname: h.AppNickname,
				active:   active,
				client:   c,
			}
		}
	}

	return nil
}

// Name returns the account name reported by the last UpdateInfo.
func (c *Client) Name() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.name
}

// UserID returns the user id reported by the last UpdateInfo.
func (c *Client) UserID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.userID
}

// HomeIDs returns the ids of homes with a running subscription.
func (c *Client) HomeIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.activeHomeIDs...)
}

// AllHomeIDs returns the ids of every home on the account.
func (c *Client) AllHomeIDs() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]string(nil), c.allHomeIDs...)
}

// Homes returns the homes with a running subscription.
func (c *Client) Homes() []*Home {
	c.mu.RLock()
	defer c.mu.RUnlock()

	homes := make([]*Home, 0, len(c.activeHomeIDs))
	for _, id := range c.activeHomeIDs {
		if home, ok := c.homes[id]; ok {
			homes = append(homes, home)
		}
	}
	return homes
}

// Home returns the home with the given id, or nil if UpdateInfo has not
// seen it.
func (c *Client) Home(id string) *Home {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.homes[id]
}

// PushResult reports the outcome of SendPushNotification.
type PushResult struct {
	Successful      bool `json:"successful"`
	PushedToDevices int  `json:"pushedToNumberOfDevices"`
}

// SendPushNotification sends a push notification to the account's
// registered devices.
func (c *Client) SendPushNotification(ctx context.Context, title, message string) (PushResult, error) {
	variables := map[string]any{
		"input": map[string]any{
			"title":        title,
			"message":      message,
			"screenToOpen": "HOME",
		},
	}

	data, err := c.rest.Execute(ctx, pushNotificationMutation, variables)
	if err != nil {
		return PushResult{}, err
	}

	var res struct {
		SendPushNotification PushResult `json:"sendPushNotification"`
	}
	if err := json.Unmarshal(data, &res); err != nil {
		return PushResult{}, fmt.Errorf("decoding push notification result: %w", err)
	}

	c.logger.Debug("push notification sent",
		"successful", res.SendPushNotification.Successful,
		"devices", res.SendPushNotification.PushedToDevices,
	)

	return res.SendPushNotification, nil
}

// Connect brings up the realtime connection. UpdateInfo must have
// discovered the endpoint first.
func (c *Client) Connect(ctx context.Context) error {
	return c.manager.Connect(ctx)
}

// Disconnect tears the realtime connection down. The client can connect
// again later.
func (c *Client) Disconnect(ctx context.Context) error {
	return c.manager.Disconnect(ctx)
}

// Close disconnects the realtime connection and releases the HTTP
// transport.
func (c *Client) Close(ctx context.Context) error {
	err := c.manager.Disconnect(ctx)
	c.rest.Close()
	return err
}
