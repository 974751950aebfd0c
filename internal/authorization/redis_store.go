package authorization

import (
	"encoding/json"
	"strings"
	"time"

	"github.com/filswan/go-mcs-sdk/mcs/api/common/logs"
	"github.com/gomodule/redigo/redis"
	"github.com/lagrangedao/go-tee-worker/constants"
	"github.com/lagrangedao/go-tee-worker/internal/models"
)

// RedisStore keeps authorizations under AUTH:<chainTaskId> with a server side expiry.
type RedisStore struct {
	pool *redis.Pool
	ttl  time.Duration
}

func NewRedisPool(url string, password string) *redis.Pool {
	return &redis.Pool{
		MaxIdle:     5,
		MaxActive:   0,
		IdleTimeout: 240 * time.Second,
		Dial: func() (redis.Conn, error) {
			if password != "" {
				return redis.DialURL(url, redis.DialPassword(password))
			}
			return redis.DialURL(url)
		},
		TestOnBorrow: func(c redis.Conn, t time.Time) error {
			_, err := c.Do("PING")
			return err
		},
	}
}

func NewRedisStore(pool *redis.Pool, ttl time.Duration) *RedisStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisStore{pool: pool, ttl: ttl}
}

func redisKey(chainTaskId string) string {
	return constants.REDIS_AUTHORIZATION_PREFIX + strings.ToLower(chainTaskId)
}

func (r *RedisStore) PutIfAbsent(auth *models.WorkerpoolAuthorization) (bool, error) {
	payload, err := json.Marshal(auth)
	if err != nil {
		return false, err
	}
	conn := r.pool.Get()
	defer conn.Close()

	reply, err := redis.String(conn.Do("SET", redisKey(auth.ChainTaskId), payload, "NX", "EX", int(r.ttl.Seconds())))
	if err == redis.ErrNil {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return reply == "OK", nil
}

func (r *RedisStore) Get(chainTaskId string) (*models.WorkerpoolAuthorization, bool) {
	conn := r.pool.Get()
	defer conn.Close()

	payload, err := redis.Bytes(conn.Do("GET", redisKey(chainTaskId)))
	if err != nil {
		if err != redis.ErrNil {
			logs.GetLogger().Errorf("Failed read authorization, chainTaskId: %s, error: %+v", chainTaskId, err)
		}
		return nil, false
	}
	var auth models.WorkerpoolAuthorization
	if err = json.Unmarshal(payload, &auth); err != nil {
		logs.GetLogger().Errorf("Failed decode authorization, chainTaskId: %s, error: %+v", chainTaskId, err)
		return nil, false
	}
	return &auth, true
}

func (r *RedisStore) Delete(chainTaskId string) {
	conn := r.pool.Get()
	defer conn.Close()
	if _, err := conn.Do("DEL", redisKey(chainTaskId)); err != nil {
		logs.GetLogger().Errorf("Failed delete authorization, chainTaskId: %s, error: %+v", chainTaskId, err)
	}
}
