package redis

// Redis key naming conventions for job data.
// All keys carry the configured prefix (default "eventjobs:") to avoid collisions.

// jobKey returns the key for a job record: {prefix}job:{id}
func (s *Store) jobKey(id string) string { return s.prefix + "job:" + id }

// jobIDsKey is the Sorted Set of job ids scored by creation time.
func (s *Store) jobIDsKey() string { return s.prefix + "job_ids" }

// pendingKey returns the List holding pending job ids: {prefix}pending:{queue}
func (s *Store) pendingKey() string { return s.prefix + "pending:" + s.queueName }

// bufferKey returns the key for a job's upload blob: {prefix}buffer:{id}
func (s *Store) bufferKey(id string) string { return s.prefix + "buffer:" + id }

// updatesChannel returns the pub/sub channel for one job: {prefix}updates:{id}
func (s *Store) updatesChannel(id string) string { return s.prefix + "updates:" + id }
