// cmd/push-gateway/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/kafka-go"

	"couponhub/internal/pkg/bootstrap"
	"couponhub/internal/pkg/logger"
	"couponhub/internal/pkg/mq"
	"couponhub/internal/pkg/redis"
	"couponhub/internal/pkg/session"
	"couponhub/internal/service/coupon/domain"
)

const serviceName = "push-gateway"

var (
	nodeID     = serviceName + "-" + uuid.New().String()[:8]
	sessionMgr *session.Manager
	upgrader   = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool { // 简化处理，允许所有跨域
			return true
		},
	}
)

// push-gateway 维持用户的 WebSocket 长连接，并把通知事件实时推送下去。
// 每个节点用独立的消费组订阅通知主题：所有节点都能看到全量通知，
// 只投递给连在本节点上的用户，其余的直接跳过。
func main() {
	var (
		redisClient *redis.Client
		cancelSub   context.CancelFunc
	)

	bootstrap.StartService(bootstrap.AppInfo{
		ServiceName: serviceName,
		Port:        8088,
		RegisterHandlers: func(appCtx bootstrap.AppCtx) {
			ctx, cancel := context.WithCancel(context.Background())
			cancelSub = cancel
			cfg := appCtx.Config

			var err error
			redisClient, err = redis.NewClient(ctx, cfg.Infra.Redis.Addr)
			if err != nil {
				logger.Logger().Fatal().Err(err).Msg("failed to connect redis")
			}
			sessionMgr = session.NewManager(redisClient)

			hub := newHub()
			go hub.run()

			// 消费组 ID 含 nodeID：广播语义，每个节点各读一份
			reader := mq.NewKafkaReader(cfg.Infra.Kafka.Brokers, cfg.App.NotificationTopic, serviceName+"-"+nodeID)
			go subscribeNotifications(ctx, reader, hub)

			appCtx.Mux.HandleFunc("/ws", func(w http.ResponseWriter, r *http.Request) {
				serveWs(hub, w, r)
			})
		},
		OnShutdown: func(ctx context.Context) {
			if cancelSub != nil {
				cancelSub()
			}
			if redisClient != nil {
				redisClient.Close()
			}
		},
	})
}

func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	userID, err := strconv.ParseInt(r.URL.Query().Get("user_id"), 10, 64)
	if err != nil || userID == 0 {
		http.Error(w, "user_id is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Logger().Error().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := &Client{hub: hub, conn: conn, send: make(chan []byte, 256), userID: userID}
	client.hub.register <- client

	if err := sessionMgr.SetUserGateway(context.Background(), userID, nodeID); err != nil {
		logger.Logger().Error().Err(err).Int64("user_id", userID).Msg("failed to set session")
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// subscribeNotifications 消费通知主题，把事件推给本节点在线的用户。
func subscribeNotifications(ctx context.Context, reader *kafka.Reader, hub *Hub) {
	defer reader.Close()
	logger.Logger().Info().Str("node", nodeID).Msg("notification subscription started")
	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Logger().Error().Err(err).Msg("could not read notification, retrying")
			time.Sleep(time.Second)
			continue
		}

		var event domain.NotificationEvent
		if err := json.Unmarshal(msg.Value, &event); err != nil {
			logger.Logger().Warn().Err(err).Msg("malformed notification event")
			continue
		}

		if hub.deliver(event.UserID, msg.Value) {
			logger.Logger().Debug().Int64("user_id", event.UserID).
				Str("event_type", string(event.EventType)).Msg("notification pushed")
		}
	}
}
