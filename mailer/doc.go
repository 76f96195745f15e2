// Package mailer delivers password reset and verification links. SMTPMailer
// talks to a real relay; LogMailer writes the deliveries to a zap logger for
// development.
//
// Both implement accountguard.Mailer.
package mailer
