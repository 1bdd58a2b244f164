// Package queue declares the broker topology shared by the submission
// publisher and the judge worker consumer.
package queue

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	Exchange     = "vibe-judge.direct"
	RoutingKey   = "judge"
	JudgeQueue   = "judge_tasks"
	DeadExchange = "vibe-judge.dlx"
	DeadQueue    = "judge_tasks.dlq"
)

// Declarer is the subset of *amqp.Channel needed to declare the topology.
type Declarer interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
}

// Declare creates the exchanges and queues idempotently. Publisher and
// consumer must declare the judge queue with identical arguments.
func Declare(ch Declarer) error {
	if err := ch.ExchangeDeclare(Exchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare exchange: %w", err)
	}
	if err := ch.ExchangeDeclare(DeadExchange, "direct", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLX: %w", err)
	}
	if _, err := ch.QueueDeclare(DeadQueue, true, false, false, false, nil); err != nil {
		return fmt.Errorf("declare DLQ: %w", err)
	}
	if err := ch.QueueBind(DeadQueue, JudgeQueue, DeadExchange, false, nil); err != nil {
		return fmt.Errorf("bind DLQ: %w", err)
	}
	if _, err := ch.QueueDeclare(JudgeQueue, true, false, false, false, QueueArgs()); err != nil {
		return fmt.Errorf("declare queue: %w", err)
	}
	if err := ch.QueueBind(JudgeQueue, RoutingKey, Exchange, false, nil); err != nil {
		return fmt.Errorf("bind queue: %w", err)
	}
	return nil
}

// QueueArgs are the arguments of the judge queue.
func QueueArgs() amqp.Table {
	return amqp.Table{
		"x-queue-type":              "quorum",
		"x-dead-letter-exchange":    DeadExchange,
		"x-dead-letter-routing-key": JudgeQueue,
	}
}
