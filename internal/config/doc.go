// Package config loads relay configuration from environment variables.
//
// Twitch credentials, the broadcaster to subscribe for, the EventSub
// endpoint parameters, and the Redis relay target are all required or
// defaulted here; validation failures abort startup.
package config
