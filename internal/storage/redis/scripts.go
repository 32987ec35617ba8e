package redis

const (
	// upsertAdminUserScript atomically writes an admin user and its index,
	// keeping the original created_at of an existing user
	upsertAdminUserScript = `
local user_key = KEYS[1]     -- idlewatch:admin:user:{username}
local users_set = KEYS[2]    -- idlewatch:admin:users

local id = ARGV[1]
local username = ARGV[2]
local password_hash = ARGV[3]
local created_at = ARGV[4]
local updated_at = ARGV[5]

local existing_created = redis.call('HGET', user_key, 'created_at')
if existing_created then
  created_at = existing_created
end

redis.call('HSET', user_key,
  'id', id,
  'username', username,
  'password_hash', password_hash,
  'created_at', created_at,
  'updated_at', updated_at
)

redis.call('SADD', users_set, username)

return 'OK'
`

	// recordLogoutScript atomically stores a logout record and its indexes,
	// and prunes index entries older than the retention window
	recordLogoutScript = `
local record_key = KEYS[1]    -- idlewatch:logout:{id}
local recent_index = KEYS[2]  -- idlewatch:logouts
local session_index = KEYS[3] -- idlewatch:logouts:session:{sessionID}

local id = ARGV[1]
local session_id = ARGV[2]
local username = ARGV[3]
local page_id = ARGV[4]
local reason = ARGV[5]
local elapsed_seconds = ARGV[6]
local at = ARGV[7]
local score = ARGV[8]
local cutoff = ARGV[9]
local ttl_seconds = tonumber(ARGV[10])

redis.call('HSET', record_key,
  'id', id,
  'session_id', session_id,
  'username', username,
  'page_id', page_id,
  'reason', reason,
  'elapsed_seconds', elapsed_seconds,
  'at', at
)
redis.call('EXPIRE', record_key, ttl_seconds)

redis.call('ZADD', recent_index, score, id)
redis.call('ZREMRANGEBYSCORE', recent_index, '-inf', '(' .. cutoff)

redis.call('ZADD', session_index, score, id)
redis.call('EXPIRE', session_index, ttl_seconds)

return 'OK'
`
)
