package util

import (
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

func RecordSpanError(span trace.Span, err error) {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
}

// MaterialObjectPath is the object storage key for a material file payload.
func MaterialObjectPath(jobID uuid.UUID, materialID uuid.UUID) string {
	return fmt.Sprintf("materials/%s/%s", jobID, materialID)
}

// NotifySubject is the JetStream subject for one platform's outbound
// notifications.
func NotifySubject(platform string) string {
	return fmt.Sprintf("notify.%s", platform)
}
