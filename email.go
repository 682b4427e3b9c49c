package vinylauth

import "log/slog"

// SendEmail lets the host application plug in real email delivery.
type SendEmail interface {
	SendVerificationEmail(to string, verificationLink string) error
	SendPasswordResetEmail(to string, resetLink string) error
}

// ConsoleEmailSender logs emails instead of sending them. For development.
type ConsoleEmailSender struct {
	Logger *slog.Logger
}

func (c *ConsoleEmailSender) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

func (c *ConsoleEmailSender) SendVerificationEmail(to string, verificationLink string) error {
	c.logger().Info("email",
		"to", to,
		"subject", "Verify your email address",
		"body", "Please verify your email by clicking: "+verificationLink)
	return nil
}

func (c *ConsoleEmailSender) SendPasswordResetEmail(to string, resetLink string) error {
	c.logger().Info("email",
		"to", to,
		"subject", "Reset your password",
		"body", "Reset your password by clicking: "+resetLink)
	return nil
}
