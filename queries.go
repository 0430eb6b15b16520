package voltstream

// GraphQL documents sent by the facade. They are opaque strings to this
// SDK; the server does the validating.

const infoQuery = `
query {
  viewer {
    name
    userId
    websocketSubscriptionUrl
    homes {
      id
      appNickname
      subscriptions {
        status
      }
    }
  }
}`

const pushNotificationMutation = `
mutation sendPushNotification($input: PushNotificationInput!) {
  sendPushNotification(input: $input) {
    successful
    pushedToNumberOfDevices
  }
}`

const liveMeasurementSubscription = `
subscription liveMeasurement($homeId: ID!) {
  liveMeasurement(homeId: $homeId) {
    timestamp
    power
    powerProduction
    accumulatedConsumption
    accumulatedProduction
    accumulatedCost
    currency
    minPower
    maxPower
    averagePower
    voltagePhase1
    voltagePhase2
    voltagePhase3
    currentL1
    currentL2
    currentL3
    lastMeterConsumption
    lastMeterProduction
    signalStrength
  }
}`
