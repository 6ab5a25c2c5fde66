package cache

import "github.com/redis/go-redis/v9"

// releaseLockScript deletes a lock key only if its stored value still
// matches the token the caller presents, so a process never releases a
// lock acquired (after TTL expiry and re-acquisition) by someone else.
// Grounded on the standard "compare-then-delete" Redis locking idiom.
var releaseLockScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end
`)
