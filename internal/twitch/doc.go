// Package twitch registers EventSub subscriptions through the Helix
// API. The websocket client only supplies the session id; everything
// HTTP-side (app tokens, rate limiting, retries) lives here.
package twitch
