// Package recordkit wires the collection backend, the shared query cache, the
// retry executor and the notification channel from environment variables, the
// way an application bootstraps the SDK at startup.
//
// Environment:
//
//	COLLECTION_RUNTIME_MODE  auto (default), http or mock
//	COLLECTION_API_URL       backend base URL, required in http mode
//	COLLECTION_API_TOKEN     sent verbatim as the Authorization header
//	COLLECTION_MOCK_SEED     YAML or JSON fixture loaded into the mock
//	COLLECTION_CACHE_TTL     retention of unused cache entries (default 5m)
//	COLLECTION_CACHE_SIZE    when set, bound the cache to this many entries (LRU)
//	LOGGING_LEVEL            DEBUG, INFO, WARN or ERROR
//	LOGGING_FORMAT           CONSOLE or JSON
//
// Init resolves the configuration, builds the runtime and waits until the
// backend reports healthy. Stores built through Runtime.Store share one cache
// and one executor, so a write through any store invalidates every cached
// query of its collection.
package recordkit
