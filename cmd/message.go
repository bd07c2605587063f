package cmd

import (
	"context"
	"fmt"
	"go/types"

	"github.com/spf13/cobra"

	cmdUtils "github.com/bodasure/bodasure-backend/cmd/utils"
	"github.com/bodasure/bodasure-backend/internal/message"
	"github.com/bodasure/bodasure-backend/pkg/config"
	"github.com/bodasure/bodasure-backend/pkg/log"
)

type MessageCommand struct{}

type MessengerServiceInterface interface {
	GetClient(messengerType message.MessengerType, opts message.MessengerOptions) (message.MessengerClient, error)
	SendMessage(ctx context.Context, messengerType message.MessengerType, opts message.MessengerOptions, message message.Message) error
}

type MessengerService struct{}

func (m *MessengerService) GetClient(messengerType message.MessengerType, opts message.MessengerOptions) (message.MessengerClient, error) {
	return message.GetClient(messengerType, opts)
}

func (m *MessengerService) SendMessage(ctx context.Context, messengerType message.MessengerType, opts message.MessengerOptions, message message.Message) error {
	messengerClient, err := m.GetClient(messengerType, opts)
	if err != nil {
		return fmt.Errorf("getting messenger client: %w", err)
	}

	_, err = messengerClient.SendMessage(ctx, message)
	return err
}

func (s *MessageCommand) Command(messengerService MessengerServiceInterface) *cobra.Command {
	opts := message.MessengerOptions{}
	messengerType := message.MessengerTypeDryRun
	messageCmdConfigOpts := config.ConfigOptions{
		{
			Name:           "message-sender-type",
			Usage:          `Message Sender Type. Options: "TWILIO_SMS", "TWILIO_WHATSAPP", "AFRICAS_TALKING_SMS", "AWS_SMS", "SENDGRID_EMAIL", "AWS_EMAIL", "DRY_RUN"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMessengerType,
			ConfigKey:      &messengerType,
			FlagDefault:    string(message.MessengerTypeDryRun),
			Required:       true,
		},
	}
	messageCmdConfigOpts = append(messageCmdConfigOpts, cmdUtils.TwilioConfigOptions(&opts)...)
	messageCmdConfigOpts = append(messageCmdConfigOpts, cmdUtils.AfricasTalkingConfigOptions(&opts)...)
	messageCmdConfigOpts = append(messageCmdConfigOpts, cmdUtils.SendGridConfigOptions(&opts)...)
	messageCmdConfigOpts = append(messageCmdConfigOpts, cmdUtils.AWSConfigOptions(&opts)...)

	messageCmd := &cobra.Command{
		Use:   "message",
		Short: "Messenger related commands",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmdUtils.PropagatePersistentPreRun(cmd, args)
			// Inject dependencies:
			opts.Environment = globalOptions.Environment

			// Validate & ingest input parameters
			messageCmdConfigOpts.Require()
			err := messageCmdConfigOpts.SetValues()
			if err != nil {
				log.Ctx(cmd.Context()).Fatalf("Error setting values of config options: %s", err.Error())
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()
			_, err := messengerService.GetClient(messengerType, opts)
			if err != nil {
				log.Ctx(ctx).Fatalf("Error creating messenger client: %s", err.Error())
			}

			log.Ctx(ctx).Infof("🎉 Successfully mounted messenger client for type %s", messengerType)
		},
	}
	err := messageCmdConfigOpts.Init(messageCmd)
	if err != nil {
		log.Ctx(messageCmd.Context()).Fatalf("Error initializing messageCmd config option: %s", err.Error())
	}

	sendMessageCmd := s.sendMessageCommand(messengerService, &messengerType, &opts)
	messageCmd.AddCommand(sendMessageCmd)

	return messageCmd
}

func (s *MessageCommand) sendMessageCommand(messengerService MessengerServiceInterface, messengerType *message.MessengerType, messageOptions *message.MessengerOptions) *cobra.Command {
	msg := message.Message{}
	var channel message.MessageChannel
	var recipient string
	// CLI arguments to send a message
	sendMessageCmdConfigOpts := config.ConfigOptions{
		{
			Name:           "channel",
			Usage:          `The channel to send the message through. Options: "SMS", "WHATSAPP", "EMAIL"`,
			OptType:        types.String,
			CustomSetValue: cmdUtils.SetConfigOptionMessageChannel,
			ConfigKey:      &channel,
			FlagDefault:    string(message.MessageChannelSMS),
			Required:       true,
		},
		{
			Name:      "to",
			Usage:     "The recipient: a phone number in E.164 for SMS and WhatsApp, an email address for email",
			OptType:   types.String,
			ConfigKey: &recipient,
			Required:  true,
		},
		{
			Name:      "body",
			Usage:     "The text of the message to be sent",
			OptType:   types.String,
			ConfigKey: &msg.Body,
			Required:  true,
		},
		{
			Name:      "title",
			Usage:     "The title to be set in the email. Mandatory if sending an email.",
			OptType:   types.String,
			ConfigKey: &msg.Title,
			Required:  false,
		},
	}
	sendMessageCmd := &cobra.Command{
		Use:   "send",
		Short: "Send a message",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			cmdUtils.PropagatePersistentPreRun(cmd, args)

			// Validate & ingest input parameters
			sendMessageCmdConfigOpts.Require()
			err := sendMessageCmdConfigOpts.SetValues()
			if err != nil {
				log.Ctx(cmd.Context()).Fatalf("Error setting values of config options: %s", err.Error())
			}
		},
		Run: func(cmd *cobra.Command, _ []string) {
			ctx := cmd.Context()

			switch channel {
			case message.MessageChannelSMS:
				if !messengerType.IsSMS() && *messengerType != message.MessengerTypeDryRun {
					log.Ctx(ctx).Fatalf("Sender type %s cannot send through the %s channel", *messengerType, channel)
				}
				msg.ToPhoneNumber = recipient
			case message.MessageChannelWhatsApp:
				if !messengerType.IsWhatsApp() && *messengerType != message.MessengerTypeDryRun {
					log.Ctx(ctx).Fatalf("Sender type %s cannot send through the %s channel", *messengerType, channel)
				}
				msg.ToPhoneNumber = recipient
			case message.MessageChannelEmail:
				if !messengerType.IsEmail() && *messengerType != message.MessengerTypeDryRun {
					log.Ctx(ctx).Fatalf("Sender type %s cannot send through the %s channel", *messengerType, channel)
				}
				msg.ToEmail = recipient
			}

			err := messengerService.SendMessage(ctx, *messengerType, *messageOptions, msg)
			if err != nil {
				log.Ctx(ctx).Fatalf("Error sending message: %s", err.Error())
			}
		},
	}
	err := sendMessageCmdConfigOpts.Init(sendMessageCmd)
	if err != nil {
		log.Ctx(sendMessageCmd.Context()).Fatalf("Error initializing a sendMessageCmd option: %s", err.Error())
	}

	return sendMessageCmd
}
