package speccache

// RedisClient exposes the client contract so tests can inject mocks.
type RedisClient = redisClient

// WithNewClient overrides the Redis client constructor for tests.
func WithNewClient(newClient func(cfg Config) RedisClient) Options {
	return func(o *options) {
		o.newClient = newClient
	}
}
