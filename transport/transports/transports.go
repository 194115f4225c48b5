// Package transports registers every built-in transport with the default
// registry. Import it for side effects.
package transports

import (
	_ "github.com/drblury/workerflow/transport/aws"
	_ "github.com/drblury/workerflow/transport/channel"
	_ "github.com/drblury/workerflow/transport/http"
	_ "github.com/drblury/workerflow/transport/kafka"
	_ "github.com/drblury/workerflow/transport/nats"
	_ "github.com/drblury/workerflow/transport/rabbitmq"
)
