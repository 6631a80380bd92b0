package redis

import (
	"encoding/json"
	"sync"

	goredis "github.com/redis/go-redis/v9"
	"github.com/ternarybob/arbor"

	"github.com/ternarybob/eventjobs/internal/models"
)

// subscription adapts a go-redis PubSub to interfaces.Subscription.
// out is closed by forward once the PubSub channel ends or Close is called.
type subscription struct {
	ps   *goredis.PubSub
	out  chan *models.JobRecord
	done chan struct{}
	once sync.Once
}

func (s *subscription) C() <-chan *models.JobRecord {
	return s.out
}

func (s *subscription) Close() error {
	var err error
	s.once.Do(func() {
		close(s.done)
		err = s.ps.Close()
	})
	return err
}

func (s *subscription) forward(logger arbor.ILogger, jobID string) {
	defer close(s.out)

	messages := s.ps.Channel()
	for {
		select {
		case <-s.done:
			return
		case msg, ok := <-messages:
			if !ok {
				return
			}

			var record models.JobRecord
			if err := json.Unmarshal([]byte(msg.Payload), &record); err != nil {
				logger.Warn().Err(err).Str("job_id", jobID).Msg("Dropping undecodable job update")
				continue
			}

			select {
			case s.out <- &record:
			case <-s.done:
				return
			}
		}
	}
}
