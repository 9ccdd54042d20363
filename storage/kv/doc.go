// Package kv provides an interface for implementing
// kv drivers that shards use to hold their committed
// tree state.
//
// A kv plugin is a factory for root store instances. A root store
// contains zero or more stores and stores contain zero or more
// partitions. Each store operates independently from other stores. Likewise,
// partitions within a store operate independently from other partitions.
// Transactions for different partitions are completely independent from each
// other: there are no ordering or consistency guarantees for transactions spawned
// from different partitions. Within a partition transactions are stricly serializable.
//
//  - Root Store
//    - Store "config"
//      - Partition "cars-1"
//        - key1: abc
//        - key2: def
//      - Partition "people-1"
//    - Store "operational"
//      - Partition "cars-1"
//      - Partition "default"
//        - keyN: aaa
//
// A data store maps onto a store and each of its shards maps onto one
// partition named after the shard. A partition's metadata holds the
// shard's commit revision.
package kv
