// Package dedupe provides a TTL cache that lets a caller perform keyed work at
// most once per interval, such as persisting a token's last-used time.
package dedupe
