package redis

// luaWrite is the one write path of the driver. It decodes the op batch,
// evaluates every condition against the stored hashes, and only then applies
// the writes together with their index maintenance. Redis runs the script
// atomically, which gives TransactWrite its all-or-nothing guarantee.
//
// ARGV[1] = namespace
// ARGV[2] = JSON array of ops (see scriptOp)
//
// Returns a JSON object: {"ok":true} or {"ok":false,"reasons":[...]}; reasons
// align with the op array, "" marks ops whose condition held.
const luaWrite = `
local ns = ARGV[1]
local ops = cjson.decode(ARGV[2])

local function itemkey(t, pk)
  return ns .. ':item:' .. t .. ':' .. pk
end

local function idxkey(t, idx, hv)
  return ns .. ':idx:' .. t .. ':' .. idx .. ':' .. hv
end

local function attr(key, name)
  local v = redis.call('HGET', key, 'a:' .. name)
  if v == false then return '' end
  return v
end

-- Evaluate every condition before touching anything.
local reasons = {}
local canceled = false
for i, op in ipairs(ops) do
  local key = itemkey(op.table, op.pk)
  local exists = redis.call('EXISTS', key) == 1
  local cond = op.cond or {}
  local fail = ''

  if op.kind == 'update' and not exists then
    fail = 'not_found'
  elseif cond.absent and exists then
    fail = 'precondition'
  elseif not exists and (cond.exists or cond.version or cond.attr_absent or cond.attr_equals) then
    fail = 'precondition'
  elseif exists then
    if cond.version and attr(key, 'version') ~= cond.version then
      fail = 'precondition'
    end
    if fail == '' and cond.attr_absent and attr(key, cond.attr_absent) ~= '' then
      fail = 'precondition'
    end
    if fail == '' and cond.attr_equals then
      for name, want in pairs(cond.attr_equals) do
        if attr(key, name) ~= want then
          fail = 'precondition'
        end
      end
    end
  end

  reasons[i] = fail
  if fail ~= '' then canceled = true end
end

if canceled then
  return cjson.encode({ok = false, reasons = reasons})
end

-- Apply. Index entries are removed against the stored attribute values and
-- re-added from the new ones.
for i, op in ipairs(ops) do
  local key = itemkey(op.table, op.pk)

  if op.kind ~= 'check' then
    for _, idx in ipairs(op.indexes or {}) do
      local old = attr(key, idx.hash)
      if old ~= '' then
        redis.call('ZREM', idxkey(op.table, idx.name, old), op.pk)
      end
    end
  end

  if op.kind == 'delete' then
    redis.call('DEL', key)
  elseif op.kind == 'put' or op.kind == 'update' then
    redis.call('DEL', key)

    local fields = {'doc', op.doc or ''}
    if op.attrs then
      for name, value in pairs(op.attrs) do
        fields[#fields + 1] = 'a:' .. name
        fields[#fields + 1] = value
      end
    end
    redis.call('HSET', key, unpack(fields))

    for _, idx in ipairs(op.indexes or {}) do
      local hv = ''
      if op.attrs then
        hv = op.attrs[idx.hash] or ''
      end
      if hv ~= '' and idx.range and idx.range ~= '' then
        local raw = op.attrs[idx.range]
        if raw == nil or raw == '' then
          hv = ''
        end
      end
      if hv ~= '' then
        local score = 0
        if idx.range and idx.range ~= '' then
          score = tonumber(op.attrs[idx.range]) or 0
        end
        redis.call('ZADD', idxkey(op.table, idx.name, hv), score, op.pk)
      end
    end
  end
end

return cjson.encode({ok = true})
`
