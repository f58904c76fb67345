package redisqueue

import "github.com/redis/go-redis/v9"

// enqueueScript stores the record and schedules it unless the id is known.
// KEYS: job key, ready set. ARGV: record, run_at ms, id.
var enqueueScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('SET', KEYS[1], ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[3])
return 1
`)

// claimScript leases the earliest ready job, falling back to one whose lease
// expired, and rewrites its record in place.
// KEYS: ready set, leased set. ARGV: now ms, lease_until ms, worker id,
// lease_until RFC3339, now RFC3339, job key prefix.
var claimScript = redis.NewScript(`
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)
local from = KEYS[1]
if #ids == 0 then
  ids = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', '(' .. ARGV[1], 'LIMIT', 0, 1)
  from = KEYS[2]
end
if #ids == 0 then
  return false
end

local id = ids[1]
local key = ARGV[6] .. id
local raw = redis.call('GET', key)
if not raw then
  redis.call('ZREM', from, id)
  return false
end

local rec = cjson.decode(raw)
rec.job.attempts = (rec.job.attempts or 0) + 1
rec.job.status = 'processing'
rec.job.lockedBy = ARGV[3]
rec.job.leaseUntil = ARGV[4]
rec.job.updatedAt = ARGV[5]
local out = cjson.encode(rec)

redis.call('SET', key, out)
redis.call('ZREM', from, id)
redis.call('ZADD', KEYS[2], ARGV[2], id)
return out
`)
