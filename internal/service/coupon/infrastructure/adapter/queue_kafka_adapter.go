// internal/service/coupon/infrastructure/adapter/queue_kafka_adapter.go
package adapter

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/segmentio/kafka-go"

	"couponhub/internal/pkg/mq"
	"couponhub/internal/service/coupon/domain"
)

// IssuanceQueueKafkaAdapter 实现 port.IssuanceQueueProducer。
// 消息 Key 取 couponID：Hash 均衡器保证同一张券的请求落在同一分区，
// 从而保持券内的接受顺序。
type IssuanceQueueKafkaAdapter struct {
	writer *kafka.Writer
}

func NewIssuanceQueueKafkaAdapter(writer *kafka.Writer) *IssuanceQueueKafkaAdapter {
	return &IssuanceQueueKafkaAdapter{writer: writer}
}

func (a *IssuanceQueueKafkaAdapter) Publish(ctx context.Context, event *domain.IssuanceRequested) error {
	eventBytes, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal issuance request: %w", err)
	}
	key := []byte(strconv.FormatInt(event.CouponID, 10))
	return mq.ProduceMessage(ctx, a.writer, key, eventBytes)
}

// Close 关闭底层的 Kafka writer。
func (a *IssuanceQueueKafkaAdapter) Close() error {
	return a.writer.Close()
}
