// Пакет notify — отправка внешних уведомлений (email, SMS).
// Сервис публикует команду в Kafka; доставку выполняет внешний шлюз.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
)

// Channel — канал доставки.
type Channel string

// Каналы доставки.
const (
	ChannelEmail Channel = "email"
	ChannelSMS   Channel = "sms"
)

// Message — одно сообщение одному получателю.
type Message struct {
	Channel   Channel
	Recipient string
	Text      string
}

// Notifier — внешняя отправка сообщений. Все сообщения одного
// уведомления передаются одним вызовом.
type Notifier interface {
	Notify(ctx context.Context, msgs ...Message) error
}

// Command — формат сообщения в топике.
type Command struct {
	Channel   Channel   `json:"channel"`
	Recipient string    `json:"recipient"`
	Message   string    `json:"message"`
	CreatedAt time.Time `json:"created_at"`
}

// messageWriter — запись сообщений (реализуется *kafka.Writer).
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig — параметры producer.
type KafkaConfig struct {
	Brokers     []string
	Topic       string
	MaxAttempts int
}

// batchTimeout — ожидание добора пакета. Writer синхронный, поэтому
// значение по умолчанию (1s) задерживало бы каждую запись.
const batchTimeout = 10 * time.Millisecond

// KafkaNotifier публикует команды в топик Kafka.
type KafkaNotifier struct {
	writer messageWriter
	topic  string
	logger *slog.Logger
}

// NewKafkaNotifier создаёт producer. Соединение устанавливается
// лениво при первой записи.
func NewKafkaNotifier(cfg KafkaConfig, logger *slog.Logger) *KafkaNotifier {
	writer := &kafka.Writer{
		Addr:            kafka.TCP(cfg.Brokers...),
		Topic:           cfg.Topic,
		Balancer:        &kafka.Hash{},
		Compression:     kafka.Gzip,
		RequiredAcks:    kafka.RequireAll,
		MaxAttempts:     cfg.MaxAttempts,
		BatchTimeout:    batchTimeout,
		WriteBackoffMin: 100 * time.Millisecond,
		WriteBackoffMax: time.Second,
	}
	return newKafkaNotifier(writer, cfg.Topic, logger)
}

func newKafkaNotifier(w messageWriter, topic string, logger *slog.Logger) *KafkaNotifier {
	return &KafkaNotifier{
		writer: w,
		topic:  topic,
		logger: logger.With(slog.String("component", "kafka_notifier")),
	}
}

// Notify публикует команды одним пакетом. Ключ сообщения — получатель,
// поэтому сообщения одному получателю попадают в одну партицию по порядку.
func (n *KafkaNotifier) Notify(ctx context.Context, msgs ...Message) error {
	if len(msgs) == 0 {
		return nil
	}

	now := time.Now().UTC()
	batch := make([]kafka.Message, 0, len(msgs))
	for _, m := range msgs {
		payload, err := json.Marshal(Command{
			Channel:   m.Channel,
			Recipient: m.Recipient,
			Message:   m.Text,
			CreatedAt: now,
		})
		if err != nil {
			return fmt.Errorf("сериализация команды уведомления: %w", err)
		}
		batch = append(batch, kafka.Message{
			Key:   []byte(m.Recipient),
			Value: payload,
		})
	}

	if err := n.writer.WriteMessages(ctx, batch...); err != nil {
		return fmt.Errorf("публикация в топик %s: %w", n.topic, err)
	}

	n.logger.Debug("Уведомления опубликованы",
		slog.Int("messages", len(batch)),
		slog.String("topic", n.topic),
	)
	return nil
}

// Close закрывает producer, дожидаясь отправки буфера.
func (n *KafkaNotifier) Close() error {
	return n.writer.Close()
}

// LogNotifier только пишет команду в лог.
// Используется, когда Kafka не настроена (LF_KAFKA_BROKERS пуст).
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier создаёт LogNotifier.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.With(slog.String("component", "log_notifier"))}
}

// Notify пишет сообщения в лог. Адрес получателя маскируется.
func (n *LogNotifier) Notify(_ context.Context, msgs ...Message) error {
	for _, m := range msgs {
		n.logger.Info("Внешнее уведомление (Kafka отключена)",
			slog.String("channel", string(m.Channel)),
			slog.String("recipient", MaskRecipient(m.Recipient)),
			slog.Int("message_len", len(m.Text)),
		)
	}
	return nil
}

// MaskRecipient скрывает адрес для логов: у email остаются первый символ
// и домен, у телефона последние две цифры.
func MaskRecipient(recipient string) string {
	runes := []rune(recipient)
	if at := strings.LastIndex(recipient, "@"); at > 0 {
		local := []rune(recipient[:at])
		return string(local[0]) + "***" + recipient[at:]
	}
	if len(runes) <= 2 {
		return strings.Repeat("*", len(runes))
	}
	return strings.Repeat("*", len(runes)-2) + string(runes[len(runes)-2:])
}
