// Package alerts evaluates threshold rules against synthesized health
// records and delivers webhook notifications when rules fire. Delivery
// targets are Slack, Teams, or generic HTTP endpoints; a delivery failure is
// logged and never affects the analysis run.
package alerts
