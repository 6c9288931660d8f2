// Package chat implements the Twitch IRC chat transport and the in-memory
// message history.
//
// The transport speaks the raw IRC wire protocol over a plain TCP socket:
// PASS/NICK authentication gated on the 001 welcome reply, JOIN for the
// target channel, PING/PONG keepalive, and PRIVMSG for sending and
// receiving. Sends that hit a dead socket trigger exactly one reconnect
// and retry before reporting failure.
//
// Credentials come from a token callback so a refreshed bot token is picked
// up on the next connect without restarting the process. A "Login
// authentication failed" NOTICE during the handshake invokes the
// OnAuthFailure hook (typically a token refresh) and retries the handshake
// once with the new token.
package chat
