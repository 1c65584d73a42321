package notifier

import (
	"context"

	"aegis/internal/logger"
)

// TextNotifier 是最小的文本推送接口，调用方不需要依赖具体实现。
type TextNotifier interface {
	SendText(ctx context.Context, text string) error
}

// LogNotifier 在未配置 Telegram 时把消息写进日志。
type LogNotifier struct{}

func (LogNotifier) SendText(ctx context.Context, text string) error {
	logger.Infof("[notify]\n%s", text)
	return nil
}
