// Package messaging 实现成交事件的事务性 outbox 以及向 Kafka 的投递。
package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// 消息状态
const (
	StatusPending = "pending"
	StatusSent    = "sent"
)

// OutboxMessage 待投递事件
type OutboxMessage struct {
	ID        string     `gorm:"column:id;type:varchar(36);primaryKey"`
	EventType string     `gorm:"column:event_type;type:varchar(100);index"`
	MsgKey    string     `gorm:"column:msg_key;type:varchar(64)"`
	Payload   string     `gorm:"column:payload;type:text"`
	Status    string     `gorm:"column:status;type:varchar(20);index;default:'pending'"`
	Attempts  int        `gorm:"column:attempts;not null;default:0"`
	LastError string     `gorm:"column:last_error;type:text"`
	CreatedAt time.Time  `gorm:"column:created_at;index"`
	UpdatedAt time.Time  `gorm:"column:updated_at"`
	SentAt    *time.Time `gorm:"column:sent_at"`
}

// TableName 指定表名
func (OutboxMessage) TableName() string {
	return "trade_outbox_messages"
}

// Outbox 基于业务库的 outbox 表
type Outbox struct {
	db *gorm.DB
}

// NewOutbox 创建 outbox
func NewOutbox(db *gorm.DB) *Outbox {
	return &Outbox{db: db}
}

// Migrate 创建 outbox 表
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(&OutboxMessage{})
}

// Append 在调用方事务内写入一条待投递事件
func (o *Outbox) Append(tx *gorm.DB, eventType, key string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s: %w", eventType, err)
	}
	now := time.Now().UTC()
	return tx.Create(&OutboxMessage{
		ID:        uuid.NewString(),
		EventType: eventType,
		MsgKey:    key,
		Payload:   string(data),
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}).Error
}

// Dispatch 锁定一批待投递消息交给 fn，fn 成功则标记为已发送。
// 使用 SKIP LOCKED，多个实例可以并行投递而不重复。返回本次处理的条数。
func (o *Outbox) Dispatch(ctx context.Context, limit int, fn func(context.Context, []OutboxMessage) error) (int, error) {
	var (
		count   int
		sendErr error
	)
	err := o.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var batch []OutboxMessage
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE", Options: "SKIP LOCKED"}).
			Where("status = ?", StatusPending).
			Order("created_at").
			Limit(limit).
			Find(&batch).Error; err != nil {
			return err
		}
		if len(batch) == 0 {
			return nil
		}

		ids := make([]string, len(batch))
		for i := range batch {
			ids[i] = batch[i].ID
		}
		now := time.Now().UTC()

		if sendErr = fn(ctx, batch); sendErr != nil {
			// 记录失败次数后提交，消息保持 pending 等待下一轮
			return tx.Model(&OutboxMessage{}).Where("id IN ?", ids).Updates(map[string]any{
				"attempts":   gorm.Expr("attempts + 1"),
				"last_error": sendErr.Error(),
				"updated_at": now,
			}).Error
		}

		count = len(batch)
		return tx.Model(&OutboxMessage{}).Where("id IN ?", ids).Updates(map[string]any{
			"status":     StatusSent,
			"sent_at":    now,
			"updated_at": now,
		}).Error
	})
	if err != nil {
		return 0, fmt.Errorf("dispatch outbox: %w", err)
	}
	if sendErr != nil {
		return 0, sendErr
	}
	return count, nil
}

// Cleanup 删除 before 之前已发送的消息
func (o *Outbox) Cleanup(ctx context.Context, before time.Time) (int64, error) {
	res := o.db.WithContext(ctx).
		Where("status = ? AND sent_at < ?", StatusSent, before).
		Delete(&OutboxMessage{})
	return res.RowsAffected, res.Error
}
