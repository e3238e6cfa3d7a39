package email

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSES struct {
	inputs []*ses.SendEmailInput
	err    error
}

func (f *fakeSES) SendEmail(_ context.Context, in *ses.SendEmailInput, _ ...func(*ses.Options)) (*ses.SendEmailOutput, error) {
	f.inputs = append(f.inputs, in)
	if f.err != nil {
		return nil, f.err
	}
	return &ses.SendEmailOutput{MessageId: aws.String("m-1")}, nil
}

func TestSendNotificationEmail(t *testing.T) {
	fake := &fakeSES{}
	svc := newEmailService(fake, "noreply@hearth.test", "Hearth", "https://hearth.test")

	err := svc.SendNotificationEmail(context.Background(), Notification{
		To:         "ada@example.com",
		SenderName: "Grace <script>",
		Summary:    "started following you",
		Path:       "/notifications",
	})
	require.NoError(t, err)
	require.Len(t, fake.inputs, 1)

	in := fake.inputs[0]
	assert.Equal(t, "Hearth <noreply@hearth.test>", aws.ToString(in.Source))
	assert.Equal(t, []string{"ada@example.com"}, in.Destination.ToAddresses)
	assert.Equal(t, "Grace <script>: started following you", aws.ToString(in.Message.Subject.Data))
	assert.Contains(t, aws.ToString(in.Message.Body.Html.Data), "Grace &lt;script&gt;")
	assert.Contains(t, aws.ToString(in.Message.Body.Text.Data), "https://hearth.test/notifications")
}

func TestSendNotificationEmailErrors(t *testing.T) {
	fake := &fakeSES{err: errors.New("throttled")}
	svc := newEmailService(fake, "noreply@hearth.test", "", "https://hearth.test")

	err := svc.SendNotificationEmail(context.Background(), Notification{})
	assert.Error(t, err, "missing recipient")
	assert.Empty(t, fake.inputs)

	err = svc.SendNotificationEmail(context.Background(), Notification{To: "a@b.c"})
	assert.ErrorContains(t, err, "throttled")
	assert.Equal(t, "noreply@hearth.test", aws.ToString(fake.inputs[0].Source))
}
